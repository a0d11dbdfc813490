package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexDocumentRequestValidate(t *testing.T) {
	ok := &IndexDocumentRequest{SourceURL: "file:///a.pdf", ContentType: ContentTypePDF}
	assert.Empty(t, Validate(ok))

	bad := &IndexDocumentRequest{ContentType: "text/html"}
	errs := Validate(bad)
	assert.Contains(t, errs, "SourceURL")
	assert.Equal(t, "failed on 'oneof' tag", errs["ContentType"])
}

func TestSearchParamsLimit(t *testing.T) {
	intp := func(v int) *int { return &v }

	tests := []struct {
		name  string
		limit *int
		want  int
	}{
		{"absent", nil, 20},
		{"zero", intp(0), 1},
		{"negative", intp(-4), 1},
		{"in range", intp(35), 35},
		{"too large", intp(500), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SearchParams{Query: "q", Limit: tt.limit}
			assert.Equal(t, tt.want, p.EffectiveLimit())
		})
	}

	assert.Contains(t, Validate(&SearchParams{}), "Query")
}
