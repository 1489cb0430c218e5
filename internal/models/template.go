package models

// TemplateRequest is the template payload an operator submits for sending
type TemplateRequest struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

// TemplateLanguage selects the approved template translation
type TemplateLanguage struct {
	Code string `json:"code"`
}

// TemplateComponent fills one template section (header, body, button)
type TemplateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      *int                `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

// TemplateParameter is a single substitution inside a component
type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Body converts the request into the stored message representation
func (t TemplateRequest) Body() *TemplateBody {
	return &TemplateBody{
		Name:       t.Name,
		Language:   t.Language,
		Components: t.Components,
	}
}
