package assessment

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/hitoshi/recruitman/internal/model"
)

// options は設問のoptions列の構造。correctが無い設問は自動採点しない。
type options struct {
	Choices []string `json:"choices,omitempty"`
	Correct *string  `json:"correct,omitempty"`
}

func parseOptions(raw json.RawMessage) (options, error) {
	var o options
	if len(bytes.TrimSpace(raw)) == 0 {
		return o, nil
	}
	err := json.Unmarshal(raw, &o)
	return o, err
}

// withoutAnswer はoptionsから正答を取り除く。解釈できない場合は空オブジェクトを返す。
func withoutAnswer(raw json.RawMessage) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return json.RawMessage(`{}`)
	}
	delete(m, "correct")
	out, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}

// Score は自動採点できる設問の得点率を0から100の整数で返す。
// 自動採点できる設問が無い場合はnilを返す。
func Score(questions []*model.AssessmentQuestion, answers map[string]json.RawMessage) *int {
	total, earned := 0, 0
	for _, q := range questions {
		o, err := parseOptions(q.Options)
		if err != nil || o.Correct == nil {
			continue
		}
		total += q.Points

		var got string
		if err := json.Unmarshal(answers[q.ID], &got); err != nil {
			continue
		}
		if strings.TrimSpace(got) == strings.TrimSpace(*o.Correct) {
			earned += q.Points
		}
	}
	if total == 0 {
		return nil
	}
	score := int(math.Round(100 * float64(earned) / float64(total)))
	return &score
}
