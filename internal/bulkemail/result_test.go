package bulkemail

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PulseBatch/internal/email"
	"PulseBatch/internal/models"
)

func TestAggregateStatus(t *testing.T) {
	for n := 0; n <= 4; n++ {
		for f := 0; f <= n; f++ {
			outcomes := make([]Outcome, 0, n)
			for i := 0; i < n; i++ {
				if i < f {
					outcomes = append(outcomes, Failure{ID: "b", Error: ClassifiedError{Message: "x"}})
				} else {
					outcomes = append(outcomes, Success{ID: "b"})
				}
			}

			res := Aggregate(outcomes)
			if f == 0 {
				assert.Equal(t, models.StatusSubmitted, res.Status, "n=%d f=%d", n, f)
				assert.Empty(t, res.Error)
			} else {
				assert.Equal(t, models.StatusFailed, res.Status, "n=%d f=%d", n, f)
			}
			assert.Len(t, res.Failures, f)
			assert.Len(t, res.Successes, n-f)
		}
	}
}

func TestAggregateUsesFirstFailureInOrder(t *testing.T) {
	res := Aggregate([]Outcome{
		Success{ID: "a"},
		Failure{ID: "b", Error: ClassifiedError{Message: "first"}},
		Failure{ID: "c", Error: ClassifiedError{Message: "second"}},
	})

	assert.Equal(t, "first", res.Error)
}

func TestAggregateTruncatesError(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"short", strings.Repeat("a", 10), 10},
		{"exactly max", strings.Repeat("a", MaxErrorLength), MaxErrorLength},
		{"over max", strings.Repeat("a", MaxErrorLength+500), MaxErrorLength},
		{"multibyte over max", strings.Repeat("é", MaxErrorLength+1), MaxErrorLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Aggregate([]Outcome{Failure{ID: "b", Error: ClassifiedError{Message: tt.in}}})
			assert.Equal(t, tt.want, len([]rune(res.Error)))
			assert.True(t, strings.HasPrefix(tt.in, res.Error))
		})
	}
}

func TestJobResultMarshal(t *testing.T) {
	res := Aggregate([]Outcome{
		Success{ID: "a"},
		NewFailure("b", &ProviderError{
			Code:       SendFailedCode,
			Classified: Classify(&email.Error{StatusCode: 500, Message: "boom"}),
		}),
		Success{ID: "c"},
	})

	results, err := res.MarshalResults()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a"},{"id":"c"}]`, string(results))

	errorData, err := res.MarshalErrorData()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"b","error":{
		"message":"Email service is currently unavailable - please try again",
		"originalMessage":"boom",
		"statusCode":500}}]`, string(errorData))
}

func TestJobResultMarshalKeepsZeroStatusCode(t *testing.T) {
	res := Aggregate([]Outcome{NewFailure("b", errors.New("disk full"))})

	errorData, err := res.MarshalErrorData()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"b","error":{
		"message":"Email failed to send \"disk full\" - please verify your email settings",
		"originalMessage":"disk full",
		"statusCode":0}}]`, string(errorData))
}

func TestJobResultMarshalEmpty(t *testing.T) {
	res := Aggregate(nil)

	results, err := res.MarshalResults()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(results))

	errorData, err := res.MarshalErrorData()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(errorData))
}

func TestNewFailureKeepsExistingClassification(t *testing.T) {
	classified := ClassifiedError{Message: "already classified", OriginalMessage: "raw", StatusCode: 401}
	f := NewFailure("b", &ProviderError{Code: SendFailedCode, Classified: classified})
	assert.Equal(t, classified, f.Error)

	f = NewFailure("b", errors.New("disk full"))
	assert.Equal(t, `Email failed to send "disk full" - please verify your email settings`, f.Error.Message)
}
