package gumroad

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePayload(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"email":"a@b.test","permalink":"temelpaket"}`))
		assert.Equal(t, "a@b.test", p.Email())
		assert.Equal(t, "temelpaket", p.ProductSlug())
	})

	t.Run("form body", func(t *testing.T) {
		p := ParsePayload("application/x-www-form-urlencoded",
			[]byte("email=a%40b.test&permalink=temelpaket&sale_id=S-1"))
		assert.Equal(t, "a@b.test", p.Email())
		assert.Equal(t, "temelpaket", p.ProductSlug())
		assert.Equal(t, "S-1", p.EventKey("a@b.test", "temelpaket"))
	})

	t.Run("garbage body parses as empty", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{{{not json`))
		assert.Equal(t, "", p.Email())
		assert.Equal(t, "", p.ProductSlug())
	})

	t.Run("empty body parses as empty", func(t *testing.T) {
		p := ParsePayload("", nil)
		assert.Equal(t, "", p.Email())
	})

	t.Run("unknown content type falls back to json", func(t *testing.T) {
		p := ParsePayload("text/plain", []byte(`{"email":"a@b.test"}`))
		assert.Equal(t, "a@b.test", p.Email())
	})
}

func TestEmailExtraction(t *testing.T) {
	t.Run("direct field wins", func(t *testing.T) {
		p := ParsePayload("application/json",
			[]byte(`{"email":"direct@x.test","purchase":{"email":"nested@x.test"},"buyer_email":"buyer@x.test"}`))
		assert.Equal(t, "direct@x.test", p.Email())
	})

	t.Run("nested purchase email", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"purchase":{"email":"nested@x.test"}}`))
		assert.Equal(t, "nested@x.test", p.Email())
	})

	t.Run("buyer_email fallback", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"buyer_email":"buyer@x.test"}`))
		assert.Equal(t, "buyer@x.test", p.Email())
	})

	t.Run("absent", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"price":"10"}`))
		assert.Equal(t, "", p.Email())
	})
}

func TestSlugExtraction(t *testing.T) {
	t.Run("bare permalink unchanged", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"permalink":"premiumpaket"}`))
		assert.Equal(t, "premiumpaket", p.ProductSlug())
	})

	t.Run("short_url with query suffix", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"short_url":"https://x.test/l/temelpaket?x=1"}`))
		assert.Equal(t, "temelpaket", p.ProductSlug())
	})

	t.Run("product_permalink url", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"product_permalink":"https://gum.co/l/standartpaket"}`))
		assert.Equal(t, "standartpaket", p.ProductSlug())
	})

	t.Run("nested purchase permalink", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"purchase":{"permalink":"temelpaket"}}`))
		assert.Equal(t, "temelpaket", p.ProductSlug())
	})

	t.Run("permalink field beats short_url", func(t *testing.T) {
		p := ParsePayload("application/json",
			[]byte(`{"permalink":"premiumpaket","short_url":"https://x.test/l/temelpaket"}`))
		assert.Equal(t, "premiumpaket", p.ProductSlug())
	})

	t.Run("trailing slash stripped from url slug", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"short_url":"https://x.test/l/temelpaket/"}`))
		assert.Equal(t, "temelpaket", p.ProductSlug())
	})
}

func TestEventKey(t *testing.T) {
	t.Run("sale_id preferred", func(t *testing.T) {
		p := ParsePayload("application/json",
			[]byte(`{"sale_id":"abc123","order_number":999}`))
		assert.Equal(t, "abc123", p.EventKey("a@b.test", "temelpaket"))
	})

	t.Run("numeric order_number stringified", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"order_number":123456}`))
		assert.Equal(t, "123456", p.EventKey("a@b.test", "temelpaket"))
	})

	t.Run("subscription_id after purchase_id", func(t *testing.T) {
		p := ParsePayload("application/json",
			[]byte(`{"purchase_id":"P-1","subscription_id":"SUB-1"}`))
		assert.Equal(t, "P-1", p.EventKey("a@b.test", "temelpaket"))
	})

	t.Run("composite fallback", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{"price":"990"}`))
		assert.Equal(t, "a@b.test:temelpaket:990", p.EventKey("a@b.test", "temelpaket"))
	})

	t.Run("composite fallback without price", func(t *testing.T) {
		p := ParsePayload("application/json", []byte(`{}`))
		assert.Equal(t, "a@b.test:temelpaket:", p.EventKey("a@b.test", "temelpaket"))
	})
}
