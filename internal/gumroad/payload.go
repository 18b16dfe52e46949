// Package gumroad parses Gumroad ping payloads. Gumroad delivers the same
// logical event in several shapes (JSON or form-encoded, fields renamed
// between API versions), so every field of interest is resolved through an
// ordered list of extractors and the first non-empty result wins.
package gumroad

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Payload is the decoded webhook body. A payload is never invalid: garbage
// bodies decode to an empty payload so that field-presence checks downstream
// produce the normal 400 responses.
type Payload struct {
	fields map[string]any
}

// ParsePayload decodes a webhook body according to its content type.
func ParsePayload(contentType string, body []byte) Payload {
	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		return parseForm(body)
	default:
		// JSON, or unknown content types that turn out to be JSON.
		return parseJSON(body)
	}
}

func parseJSON(body []byte) Payload {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return Payload{fields: map[string]any{}}
	}
	return Payload{fields: fields}
}

func parseForm(body []byte) Payload {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Payload{fields: map[string]any{}}
	}
	fields := make(map[string]any, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return Payload{fields: fields}
}

// field returns the named top-level field as a string. Numeric JSON values
// are stringified the way Gumroad's own docs show them (order_number is a
// bare number in JSON pings).
func (p Payload) field(name string) string {
	return stringify(p.fields[name])
}

// nested returns child field of a top-level object field, e.g. purchase.email.
func (p Payload) nested(parent, name string) string {
	obj, ok := p.fields[parent].(map[string]any)
	if !ok {
		return ""
	}
	return stringify(obj[name])
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

type extractor func(Payload) string

func firstNonEmpty(p Payload, extractors []extractor) string {
	for _, extract := range extractors {
		if v := extract(p); v != "" {
			return v
		}
	}
	return ""
}

var emailExtractors = []extractor{
	func(p Payload) string { return p.field("email") },
	func(p Payload) string { return p.nested("purchase", "email") },
	func(p Payload) string { return p.field("buyer_email") },
}

// Email resolves the buyer email, or "" when the payload has none.
func (p Payload) Email() string {
	return firstNonEmpty(p, emailExtractors)
}

var slugExtractors = []extractor{
	func(p Payload) string { return extractSlug(p.field("permalink")) },
	func(p Payload) string { return extractSlug(p.field("product_permalink")) },
	func(p Payload) string { return extractSlug(p.nested("purchase", "permalink")) },
	func(p Payload) string { return extractSlug(p.field("short_url")) },
}

// ProductSlug resolves the product slug. Bare slugs pass through unchanged;
// URL-shaped values are reduced to the path segment after the /l/ marker with
// any query suffix stripped.
func (p Payload) ProductSlug() string {
	return firstNonEmpty(p, slugExtractors)
}

func extractSlug(v string) string {
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/l/"); idx >= 0 {
		v = v[idx+len("/l/"):]
		if q := strings.IndexByte(v, '?'); q >= 0 {
			v = v[:q]
		}
		v = strings.TrimSuffix(v, "/")
	}
	return v
}

var saleIDExtractors = []extractor{
	func(p Payload) string { return p.field("sale_id") },
	func(p Payload) string { return p.field("purchase_id") },
	func(p Payload) string { return p.field("order_number") },
	func(p Payload) string { return p.field("subscription_id") },
}

// EventKey derives the idempotency key for this delivery. Provider-supplied
// transaction identifiers are preferred; without one the key falls back to
// email:slug:price, which collides across identical repeat purchases and is
// best-effort only.
func (p Payload) EventKey(email, slug string) string {
	if id := firstNonEmpty(p, saleIDExtractors); id != "" {
		return id
	}
	return email + ":" + slug + ":" + p.field("price")
}
