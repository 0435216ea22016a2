package types

// Transcript is the word-level timing document produced by the upstream
// transcription service.
type Transcript struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
}

type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Words   []Word  `json:"words,omitempty"`
	Speaker string  `json:"speaker,omitempty"`
}

type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score,omitempty"`
}

// ShotList is the timestamped, scene-by-scene editing plan produced by the
// upstream director. Only timing, text, and scoring fields are consumed here;
// the rest rides along so a shot list round-trips without loss.
type ShotList struct {
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title,omitempty"`
	Scenes      []Scene `json:"scenes"`
	AspectRatio string  `json:"aspect_ratio,omitempty"`
}

type Scene struct {
	SceneIndex        int          `json:"scene_index"`
	StartTime         float64      `json:"start_time"`
	EndTime           float64      `json:"end_time"`
	TranscriptSegment string       `json:"transcript_segment,omitempty"`
	Description       string       `json:"description,omitempty"`
	HookMoment        bool         `json:"hook_moment,omitempty"`
	ViralityScore     int          `json:"virality_score"`
	Typography        []Typography `json:"typography,omitempty"`
	EnergyLevel       string       `json:"energy_level,omitempty"`
	Tags              []string     `json:"tags,omitempty"`
}

// Typography is one on-screen text overlay cue. StartTime is relative to the
// owning scene's start.
type Typography struct {
	Text      string  `json:"text"`
	Position  string  `json:"position,omitempty"`
	StartTime float64 `json:"start_time"`
	Duration  float64 `json:"duration"`
	Purpose   string  `json:"purpose,omitempty"`
	Color     string  `json:"color,omitempty"`
}

// ClipGroup is a run of adjacent scenes merged into one standalone output
// clip. Invariant: End > Start and End-Start >= 5 seconds.
type ClipGroup struct {
	Start  float64
	End    float64
	Score  int
	Title  string
	Scenes []Scene
}

func (g ClipGroup) Duration() float64 { return g.End - g.Start }

// CropRect is the region cut from a source frame. Width and Height are even
// (encoder alignment) and the rect stays within source bounds.
type CropRect struct {
	Width  int
	Height int
	X      int
	Y      int
}

// RenderedClip describes one successfully transcoded output file.
type RenderedClip struct {
	Path     string  `json:"path"`
	Title    string  `json:"title"`
	Score    int     `json:"score"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}
