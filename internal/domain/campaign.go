package domain

import (
	"encoding/json"
	"fmt"
)

// SourceKind is the stored discriminator of a campaign's content source.
type SourceKind int

const (
	SourceTemplate           SourceKind = 1
	SourceCustom             SourceKind = 2
	SourceCustomFromTemplate SourceKind = 3
	SourceCustomFromCampaign SourceKind = 4
	SourceURL                SourceKind = 5
)

func (k SourceKind) String() string {
	switch k {
	case SourceTemplate:
		return "template"
	case SourceCustom:
		return "custom"
	case SourceCustomFromTemplate:
		return "custom_from_template"
	case SourceCustomFromCampaign:
		return "custom_from_campaign"
	case SourceURL:
		return "url"
	}
	return fmt.Sprintf("source(%d)", int(k))
}

// ContentSource is where a campaign body comes from. The set of
// implementations is closed: URLSource, CustomSource and TemplateSource.
type ContentSource interface {
	Kind() SourceKind
	contentSource()
}

// URLSource fetches the already personalized body from a remote endpoint.
type URLSource struct {
	URL string
}

// CustomSource carries html/text stored on the campaign itself.
type CustomSource struct {
	SourceKind SourceKind
	HTML       string
	Text       string
}

// TemplateSource references a stored template.
type TemplateSource struct {
	TemplateID int64
}

func (URLSource) Kind() SourceKind      { return SourceURL }
func (s CustomSource) Kind() SourceKind { return s.SourceKind }
func (TemplateSource) Kind() SourceKind { return SourceTemplate }
func (URLSource) contentSource()        {}
func (CustomSource) contentSource()     {}
func (TemplateSource) contentSource()   {}

// CampaignData mirrors the JSON document stored in campaigns.data.
type CampaignData struct {
	SourceCustom *struct {
		HTML string `json:"html"`
		Text string `json:"text"`
	} `json:"sourceCustom,omitempty"`
	SourceTemplate int64  `json:"sourceTemplate,omitempty"`
	SourceURL      string `json:"sourceUrl,omitempty"`
}

// ParseContentSource builds the typed source from the stored kind and data
// document. The URL may also live in its own column, passed as sourceURL.
func ParseContentSource(kind SourceKind, data []byte, sourceURL string) (ContentSource, error) {
	var d CampaignData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode campaign data: %w", err)
		}
	}

	switch kind {
	case SourceURL:
		if sourceURL == "" {
			sourceURL = d.SourceURL
		}
		if sourceURL == "" {
			return nil, fmt.Errorf("url source without url")
		}
		return URLSource{URL: sourceURL}, nil
	case SourceCustom, SourceCustomFromTemplate, SourceCustomFromCampaign:
		src := CustomSource{SourceKind: kind}
		if d.SourceCustom != nil {
			src.HTML = d.SourceCustom.HTML
			src.Text = d.SourceCustom.Text
		}
		return src, nil
	case SourceTemplate:
		if d.SourceTemplate == 0 {
			return nil, fmt.Errorf("template source without template id")
		}
		return TemplateSource{TemplateID: d.SourceTemplate}, nil
	}
	return nil, fmt.Errorf("unknown campaign source %d", int(kind))
}

// CampaignList attaches a list (and optional segment) to a campaign.
type CampaignList struct {
	ListID    int64  `json:"list" db:"list"`
	SegmentID *int64 `json:"segment" db:"segment"`
}

// Campaign is loaded once per send run. Only the counters change while a
// run is in progress, and those are incremented in the database.
type Campaign struct {
	ID                  int64          `json:"id" db:"id"`
	CID                 string         `json:"cid" db:"cid"`
	Name                string         `json:"name" db:"name"`
	Source              ContentSource  `json:"-"`
	SendConfigurationID int64          `json:"send_configuration" db:"send_configuration"`
	Lists               []CampaignList `json:"lists"`

	FromNameOverride  *string `json:"from_name_override" db:"from_name_override"`
	FromEmailOverride *string `json:"from_email_override" db:"from_email_override"`
	ReplyToOverride   *string `json:"reply_to_override" db:"reply_to_override"`
	SubjectOverride   *string `json:"subject_override" db:"subject_override"`

	// UnsubscribeURL is a merge-tag template; empty means the canonical
	// per-list unsubscribe page is used.
	UnsubscribeURL string `json:"unsubscribe_url" db:"unsubscribe_url"`

	ClickTrackingDisabled bool `json:"click_tracking_disabled" db:"click_tracking_disabled"`
	OpenTrackingDisabled  bool `json:"open_tracking_disabled" db:"open_tracking_disabled"`

	Delivered int `json:"delivered" db:"delivered"`
	Bounced   int `json:"bounced" db:"bounced"`
}

// Template is a stored html/text body pair.
type Template struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	HTML string `json:"html" db:"html"`
	Text string `json:"text" db:"text"`
}

// File is a stored campaign attachment row.
type File struct {
	ID           int64  `json:"id" db:"id"`
	Filename     string `json:"filename" db:"filename"`
	OriginalName string `json:"originalname" db:"originalname"`
	MimeType     string `json:"mimetype" db:"mimetype"`
	Size         int64  `json:"size" db:"size"`
}
