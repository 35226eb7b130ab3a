package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// letters keeps only letters and digits so content can be compared across
// re-punctuation and whitespace normalization.
func letters(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func TestSplit_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t \r\n"} {
		_, err := Split(in, Limits{MaxBytes: 100})
		assert.ErrorIs(t, err, tts.ErrEmptyInput, "input %q", in)
	}
}

func TestSplit_InvalidLimits(t *testing.T) {
	tests := []Limits{
		{MaxBytes: 0},
		{MaxBytes: 7},
		{MaxBytes: 100, MaxSentenceLength: 1},
		{MaxBytes: 100, MaxSentenceLength: -3},
	}
	for _, lim := range tests {
		_, err := Split("hello.", lim)
		assert.ErrorIs(t, err, ErrInvalidLimits, "limits %+v", lim)
	}
}

func TestSplit_PacksSentences(t *testing.T) {
	chunks, err := Split("One. Two! Three?", Limits{MaxBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"One. Two!", "Three?"}, texts(chunks))
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	chunks, err := Split("  Hello   world.\n\nSecond  line here.  ", Limits{MaxBytes: 4000})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello world. Second line here."}, texts(chunks))
}

func TestSplit_NoPunctuationLongText(t *testing.T) {
	text := strings.Repeat("abcde ", 2000)
	require.Len(t, text, 12000)

	for _, msl := range []int{0, 150} {
		chunks, err := Split(text, Limits{MaxBytes: 4500, MaxSentenceLength: msl})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(chunks), 3)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c.Text), 4500)
			assert.True(t, strings.HasSuffix(c.Text, "."), "chunk should end with a period")
		}
		joined := strings.Join(texts(chunks), " ")
		assert.Equal(t, letters(text), letters(joined))
	}
}

func TestSplit_LongSentenceUsesCommas(t *testing.T) {
	text := "alpha beta gamma, delta epsilon zeta, eta theta iota kappa lambda mu nu xi omicron, pi rho."
	lim := Limits{MaxBytes: 4000, MaxSentenceLength: 40}

	chunks, err := Split(text, lim)
	require.NoError(t, err)

	sentences := splitAfter(strings.Join(texts(chunks), " "), isTerminal)
	for _, s := range sentences {
		assert.LessOrEqual(t, utf8.RuneCountInString(s), 40, "sentence %q", s)
		assert.True(t, endsSentence(s), "sentence %q", s)
	}
	assert.Contains(t, sentences, "alpha beta gamma, delta epsilon zeta.")
	assert.Equal(t, letters(text), letters(strings.Join(texts(chunks), "")))
}

func TestSplit_CJKTerminators(t *testing.T) {
	chunks, err := Split("你好。今天天气很好！我们去公园吧？", Limits{MaxBytes: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"你好。", "今天天气很好！", "我们去公园吧？"}, texts(chunks))
}

func TestSplit_OversizedToken(t *testing.T) {
	token := strings.Repeat("x", 100)
	chunks, err := Split(token, Limits{MaxBytes: 16})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var rebuilt strings.Builder
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 16)
		rebuilt.WriteString(strings.ReplaceAll(strings.ReplaceAll(c.Text, ".", ""), " ", ""))
	}
	assert.Equal(t, token, rebuilt.String())
}

func TestSplit_MultibyteBudget(t *testing.T) {
	// Vietnamese text: most letters take two or three bytes.
	text := strings.Repeat("Truyện kể rằng ngày xưa có một người đàn ông ", 40)
	chunks, err := Split(text, Limits{MaxBytes: 120, MaxSentenceLength: 60})
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 120)
		assert.True(t, utf8.ValidString(c.Text))
	}
	assert.Equal(t, letters(text), letters(strings.Join(texts(chunks), "")))
}

func TestSplitAfter_KeepsDecimalsAndQuotes(t *testing.T) {
	got := splitAfter(`Pi is 3.14 roughly. He said "stop!" Then left. 1,000 people`, isTerminal)
	assert.Equal(t, []string{
		"Pi is 3.14 roughly.",
		`He said "stop!"`,
		"Then left.",
		"1,000 people",
	}, got)

	got = splitAfter(`Wait... "Really?" Yes.`, isTerminal)
	assert.Equal(t, []string{"Wait...", `"Really?"`, "Yes."}, got)
}

func TestTerminate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello."},
		{"hello,", "hello."},
		{"hello ;", "hello."},
		{"done!", "done!"},
		{`he said "yes."`, `he said "yes."`},
		{",,,", ",,,"},
		{"xin chào，", "xin chào."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, terminate(tt.in), "input %q", tt.in)
	}
}

func TestLimitsFor(t *testing.T) {
	lim := LimitsFor(tts.Capabilities{MaxBytes: 4500, MaxSentenceLength: 150, Concurrency: 10})
	assert.Equal(t, Limits{MaxBytes: 4500, MaxSentenceLength: 150}, lim)
}

func TestSplit_RandomInputs(t *testing.T) {
	words := []string{
		"the", "quick", "brown", "fox,", "jumps.", "over!", "lazy", "dog?",
		"Việt", "Nam;", "người", "đàn", "ông:", "你好。", "世界", "天气，",
		"supercalifragilisticexpialidocious", "3.14", "»done«", "(aside)",
		strings.Repeat("long", 12),
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 300; i++ {
		var b strings.Builder
		n := 1 + rng.Intn(200)
		for j := 0; j < n; j++ {
			b.WriteString(words[rng.Intn(len(words))])
			if rng.Intn(10) == 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		text := b.String()

		lim := Limits{MaxBytes: minBytes + rng.Intn(300)}
		if rng.Intn(2) == 0 {
			lim.MaxSentenceLength = 2 + rng.Intn(80)
		}

		chunks, err := Split(text, lim)
		require.NoError(t, err, "limits %+v", lim)
		require.NotEmpty(t, chunks)

		for k, c := range chunks {
			assert.Equal(t, k, c.Index)
			assert.LessOrEqual(t, len(c.Text), lim.MaxBytes, "limits %+v chunk %q", lim, c.Text)
			assert.NotEmpty(t, strings.TrimSpace(c.Text))
			assert.True(t, utf8.ValidString(c.Text))
		}
		assert.Equal(t, letters(text), letters(strings.Join(texts(chunks), "")), "limits %+v", lim)
	}
}
