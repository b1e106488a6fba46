package models

// AdvertisementContent is a renderable advertisement for one marketplace.
type AdvertisementContent struct {
	ContentID     string `json:"content_id"`
	MarketplaceID string `json:"marketplace_id"`
	// RenderableContent is the markup or payload handed to the client as is.
	RenderableContent string `json:"renderable_content"`
}

// SelectionResult is the outcome of a selection call. It either carries the
// chosen content (a generated advertisement) or is empty, meaning nothing was
// eligible or the request was not valid.
type SelectionResult struct {
	Content *AdvertisementContent
}

// EmptySelection returns the result used when no advertisement is served.
func EmptySelection() SelectionResult {
	return SelectionResult{}
}

// GeneratedSelection returns a result serving a copy of content.
func GeneratedSelection(content AdvertisementContent) SelectionResult {
	c := content
	return SelectionResult{Content: &c}
}

// IsEmpty reports whether no advertisement was selected.
func (r SelectionResult) IsEmpty() bool {
	return r.Content == nil
}

// AdResponse is the JSON body returned by the /ad endpoint.
type AdResponse struct {
	ID      string                `json:"id"`
	Content *AdvertisementContent `json:"content"`
	Debug   interface{}           `json:"debug,omitempty"`
}
