package subtitles

import (
	"fmt"
	"math"
	"strings"

	"github.com/clipsmith/clipsmith/internal/types"
)

// Output canvas the styles are authored against (9:16 vertical).
const (
	PlayResX = 1080
	PlayResY = 1920
)

const (
	captionFont         = "Arial"
	captionFontSize     = 80
	captionColor        = "&H00FFFFFF" // white (ASS BGR)
	captionHighlight    = "&H0000FF00" // green active word
	captionOutlineColor = "&H00000000"
	captionOutlineWidth = 5
	captionShadow       = 3
	captionMarginV      = 160

	typoFont     = "Arial"
	typoFontSize = 78
	typoMarginV  = 700
)

const (
	maxWordsPerPhrase = 3
	wordWindowSlack   = 0.1  // seconds of tolerance when selecting clip words
	firstWordPreRoll  = 0.08 // captions appear slightly before speech
	lastWordHold      = 0.1  // keeps the phrase from overlapping the next one
)

// Synthesize builds an ASS subtitle document for one clip: karaoke-style
// word-highlight captions from the transcript plus typography overlays from
// the clip's scenes. Times in the document are relative to clipStart.
//
// A clip with no matching words still yields typography events; an overlay
// whose clip-relative start is negative refers to content before the clip
// begins and is dropped.
func Synthesize(tr types.Transcript, scenes []types.Scene, clipStart, clipEnd float64) string {
	words := collectClipWords(tr, clipStart, clipEnd)
	phrases := packPhrases(words)

	var b strings.Builder
	b.WriteString(header())
	for _, p := range phrases {
		writeWordHighlightEvents(&b, p)
	}
	for _, e := range collectTypography(scenes, clipStart) {
		writeTypographyEvent(&b, e)
	}
	return b.String()
}

type word struct {
	Text  string
	Start float64 // clip-relative
	End   float64
}

type phrase struct {
	Words []word
	Start float64
	End   float64
}

type overlay struct {
	Text  string
	Start float64
	End   float64
}

func collectClipWords(tr types.Transcript, clipStart, clipEnd float64) []word {
	var out []word
	for _, seg := range tr.Segments {
		for _, w := range seg.Words {
			if w.Start < clipStart-wordWindowSlack || w.End > clipEnd+wordWindowSlack {
				continue
			}
			text := strings.TrimSpace(w.Word)
			if text == "" {
				continue
			}
			out = append(out, word{
				Text:  text,
				Start: w.Start - clipStart,
				End:   w.End - clipStart,
			})
		}
	}
	return out
}

// packPhrases groups consecutive words into display phrases of up to three
// words, closing a phrase early when a word ends in terminal punctuation.
func packPhrases(words []word) []phrase {
	var phrases []phrase
	var cur []word
	flush := func() {
		if len(cur) == 0 {
			return
		}
		phrases = append(phrases, phrase{
			Words: cur,
			Start: cur[0].Start,
			End:   cur[len(cur)-1].End,
		})
		cur = nil
	}
	for _, w := range words {
		cur = append(cur, w)
		if len(cur) >= maxWordsPerPhrase || endsPhrase(w.Text) {
			flush()
		}
	}
	flush()
	return phrases
}

func endsPhrase(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") ||
		strings.HasSuffix(text, "?") || strings.HasSuffix(text, ",") ||
		strings.HasSuffix(text, ";") || strings.HasSuffix(text, ":")
}

func collectTypography(scenes []types.Scene, clipStart float64) []overlay {
	var out []overlay
	for _, s := range scenes {
		sceneOffset := s.StartTime - clipStart
		for _, t := range s.Typography {
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			start := sceneOffset + t.StartTime
			if start < 0 {
				continue
			}
			dur := t.Duration
			if dur <= 0 {
				dur = 3.0
			}
			out = append(out, overlay{Text: text, Start: start, End: start + dur})
		}
	}
	return out
}

// writeWordHighlightEvents emits one dialogue event per word of the phrase.
// Each event shows every word with only the active one in the highlight color
// and slightly scaled up; event boundaries chain word starts so exactly one
// event is visible at any instant.
func writeWordHighlightEvents(b *strings.Builder, p phrase) {
	for i, w := range p.Words {
		start := w.Start
		if i == 0 {
			start -= firstWordPreRoll
			if start < 0 {
				start = 0
			}
		}
		var end float64
		if i+1 < len(p.Words) {
			end = p.Words[i+1].Start
		} else {
			end = w.End + lastWordHold
		}

		parts := make([]string, 0, len(p.Words))
		for j, other := range p.Words {
			text := escape(other.Text)
			if j == i {
				parts = append(parts, fmt.Sprintf(
					"{\\1c%s\\fscx115\\fscy115\\bord6}%s{\\1c%s\\fscx100\\fscy100\\bord%d}",
					captionHighlight, text, captionColor, captionOutlineWidth,
				))
			} else {
				parts = append(parts, text)
			}
		}
		fmt.Fprintf(b, "Dialogue: 0,%s,%s,Caption,,0,0,0,,%s\n",
			Timestamp(start), Timestamp(end), strings.Join(parts, " "))
	}
}

func writeTypographyEvent(b *strings.Builder, e overlay) {
	fmt.Fprintf(b, "Dialogue: 1,%s,%s,Typography,,0,0,0,,{\\fad(400,300)\\fscx105\\fscy105}%s\n",
		Timestamp(e.Start), Timestamp(e.End), escape(strings.ToUpper(e.Text)))
}

func header() string {
	return fmt.Sprintf(`[Script Info]
Title: clipsmith captions
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: TV.709
PlayResX: %d
PlayResY: %d

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Caption,%s,%d,%s,%s,%s,&HA0000000,-1,0,0,0,100,100,1,0,1,%d,%d,2,60,60,%d,1
Style: Typography,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&HA0000000,-1,0,0,0,100,100,2,0,1,5,3,8,60,60,%d,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`,
		PlayResX, PlayResY,
		captionFont, captionFontSize, captionColor, captionHighlight, captionOutlineColor,
		captionOutlineWidth, captionShadow, captionMarginV,
		typoFont, typoFontSize, typoMarginV,
	)
}

// Timestamp renders seconds as an ASS H:MM:SS.cc timestamp. Rounded to whole
// centiseconds first so binary float representations of values like 0.6 do not
// truncate down a tick.
func Timestamp(secs float64) string {
	if secs < 0 {
		secs = 0
	}
	total := int(math.Round(secs * 100))
	h := total / 360000
	m := (total % 360000) / 6000
	s := (total % 6000) / 100
	cs := total % 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "\\{")
	s = strings.ReplaceAll(s, "}", "\\}")
	return strings.TrimSpace(s)
}
