package ai

// GenerateRequest is the generateContent request body
type GenerateRequest struct {
	Contents []Content `json:"contents"`
}

// Content is one turn of the conversation
type Content struct {
	Parts []Part `json:"parts"`
}

// Part is either inline image data or text
type Part struct {
	InlineData *InlineData `json:"inline_data,omitempty"`
	Text       string      `json:"text,omitempty"`
}

// InlineData carries a base64 encoded payload
type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// GenerateResponse is the subset of the generateContent response we read
type GenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Text returns the first candidate's first text part
func (r *GenerateResponse) Text() (string, bool) {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return "", false
	}
	return r.Candidates[0].Content.Parts[0].Text, true
}
