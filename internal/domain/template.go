package domain

// TemplateCategory groups effect templates under a bilingual category title,
// matching the catalog endpoint's response shape.
type TemplateCategory struct {
	CategoryID      int        `json:"categoryId"`
	CategoryTitleRu string     `json:"categoryTitleRu"`
	CategoryTitleEn string     `json:"categoryTitleEn"`
	Templates       []Template `json:"templates"`
}

// Template is one catalog effect. Preview is the remote preview video URL;
// LocalVideoName is set once the preview has been cached locally.
type Template struct {
	ID              int    `json:"id"`
	AI              string `json:"ai"`
	Pos             *int   `json:"pos,omitempty"`
	Title           string `json:"title"`
	CategoryID      int    `json:"categoryId"`
	CategoryTitleRu string `json:"categoryTitleRu"`
	CategoryTitleEn string `json:"categoryTitleEn"`
	Effect          string `json:"effect"`
	Preview         string `json:"preview"`
	PreviewSmall    string `json:"previewSmall"`
	LocalVideoName  string `json:"localVideoName,omitempty"`
}
