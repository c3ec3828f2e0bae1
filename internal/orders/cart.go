package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 10000

// CartLine is one validated cart entry. Prices are never taken from the client.
type CartLine struct {
	ProductID    uint64         `json:"product_id"`
	PackageID    *uint64        `json:"package_id,omitempty"`
	Quantity     int            `json:"quantity"`
	Requirements map[string]any `json:"requirements,omitempty"`
}

// ParseCartPayload checks the shape of a decoded JSON cart: a non-empty list of
// objects with a positive integer product_id and quantity, an optional package_id
// and an optional requirements object. Every problem is reported by field.
func ParseCartPayload(raw any) ([]CartLine, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, pkgerrors.Validation("cart must be a list of items", map[string]any{"items": "must be a list"})
	}
	if len(list) == 0 {
		return nil, pkgerrors.Validation("cart is empty", map[string]any{"items": "must not be empty"})
	}

	fields := map[string]any{}
	lines := make([]CartLine, 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			fields[itemField(i, "")] = "must be an object"
			continue
		}
		var line CartLine
		if id, ok := positiveInt(obj["product_id"]); ok {
			line.ProductID = uint64(id)
		} else {
			fields[itemField(i, "product_id")] = "must be a positive integer"
		}
		if qty, ok := positiveInt(obj["quantity"]); ok && qty <= MaxLineQuantity {
			line.Quantity = int(qty)
		} else {
			fields[itemField(i, "quantity")] = quantityRule
		}
		if rawPkg, present := obj["package_id"]; present && rawPkg != nil {
			if id, ok := positiveInt(rawPkg); ok {
				pkgID := uint64(id)
				line.PackageID = &pkgID
			} else {
				fields[itemField(i, "package_id")] = "must be a positive integer"
			}
		}
		if rawReq, present := obj["requirements"]; present && rawReq != nil {
			if req, ok := rawReq.(map[string]any); ok {
				line.Requirements = req
			} else {
				fields[itemField(i, "requirements")] = "must be an object"
			}
		}
		lines = append(lines, line)
	}
	if len(fields) > 0 {
		return nil, pkgerrors.Validation("invalid cart items", fields)
	}
	return lines, nil
}

// MissingRequirements lists the required keys that are absent or blank in requirements.
func MissingRequirements(required []string, requirements map[string]any) []string {
	var missing []string
	for _, key := range required {
		value, ok := requirements[key]
		if !ok || value == nil || strings.TrimSpace(fmt.Sprint(value)) == "" {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// CartHash is the SHA-256 of the cart projected to product, package, quantity and
// requirements, with lines sorted so that ordering does not matter.
func CartHash(lines []CartLine) string {
	type projected struct {
		ProductID    uint64         `json:"product_id"`
		PackageID    uint64         `json:"package_id"`
		Quantity     int            `json:"quantity"`
		Requirements map[string]any `json:"requirements"`
	}
	normalized := make([]projected, 0, len(lines))
	for _, line := range lines {
		p := projected{ProductID: line.ProductID, Quantity: line.Quantity, Requirements: line.Requirements}
		if line.PackageID != nil {
			p.PackageID = *line.PackageID
		}
		if p.Requirements == nil {
			p.Requirements = map[string]any{}
		}
		normalized = append(normalized, p)
	}
	encoded := make([]string, len(normalized))
	for i, p := range normalized {
		b, _ := json.Marshal(p)
		encoded[i] = string(b)
	}
	sort.Strings(encoded)
	sum := sha256.Sum256([]byte("[" + strings.Join(encoded, ",") + "]"))
	return hex.EncodeToString(sum[:])
}

var quantityRule = fmt.Sprintf("must be an integer between 1 and %d", MaxLineQuantity)

func itemField(index int, name string) string {
	if name == "" {
		return fmt.Sprintf("items.%d", index)
	}
	return fmt.Sprintf("items.%d.%s", index, name)
}

func positiveInt(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if v < 1 || v != math.Trunc(v) || v > math.MaxInt64/2 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil && n >= 1
	case int:
		return int64(v), v >= 1
	case int64:
		return v, v >= 1
	case uint64:
		return int64(v), v >= 1 && v <= math.MaxInt64
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil && n >= 1
	}
	return 0, false
}
