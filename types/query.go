package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type IndexDocumentRequest struct {
	SourceURL        string         `json:"source_url" validate:"required"`
	ContentType      string         `json:"content_type" validate:"required,oneof=application/pdf"`
	SourceProperties map[string]any `json:"source_properties"`
}

type IndexDocumentResponse struct {
	JobID          string         `json:"job_id"`
	IndexingStatus string         `json:"indexing_status"`
	Metadata       map[string]any `json:"metadata"`
}

type SearchParams struct {
	Query string `query:"q" validate:"required"`
	Limit *int   `query:"limit"`
}

type UpdateTitleParams struct {
	Title string `json:"title" validate:"required,max=256"`
}

type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *IndexDocumentRequest) Validate() map[string]string {
	return validateStruct(params)
}

func (params *SearchParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *UpdateTitleParams) Validate() map[string]string {
	return validateStruct(params)
}

// EffectiveLimit returns the default when no limit was given and clamps an
// explicit one to [1, MaxSearchLimit].
func (params *SearchParams) EffectiveLimit() int {
	if params.Limit == nil {
		return DefaultSearchLimit
	}
	return ClampLimit(*params.Limit)
}

func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
