package models

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_EffectiveQuota(t *testing.T) {
	tests := []struct {
		name     string
		quota    int
		fallback int
		want     int
	}{
		{"explicit", 50, 1000, 50},
		{"zero_uses_fallback", 0, 200, 200},
		{"negative_uses_fallback", -1, 200, 200},
		{"no_fallback", 0, 0, DefaultDailyQuota},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Credential{DailyQuota: tt.quota}
			assert.Equal(t, tt.want, c.EffectiveQuota(tt.fallback))
		})
	}
}

func TestCredential_JSONOmitsSecret(t *testing.T) {
	c := Credential{ID: "k1", Name: "primary", Secret: "AIzaSyA1234567890abcd", Enabled: true}

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "1234567890")

	view, err := json.Marshal(c.View())
	require.NoError(t, err)
	assert.Contains(t, string(view), `"apiKey":"AIza****abcd"`)
}

func TestCredential_LogValueOmitsSecret(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	log.Info("selected", "credential", &Credential{ID: "k1", Secret: "AIzaSyA1234567890abcd"})

	assert.Contains(t, buf.String(), "credential.id=k1")
	assert.NotContains(t, buf.String(), "AIza")
}

func TestCredentialInput_Apply(t *testing.T) {
	name := "renamed"
	enabled := false
	c := Credential{Name: "old", Secret: "s", DailyQuota: 5, Enabled: true}

	CredentialInput{Name: &name, Enabled: &enabled}.Apply(&c)

	assert.Equal(t, "renamed", c.Name)
	assert.False(t, c.Enabled)
	assert.Equal(t, "s", c.Secret)
	assert.Equal(t, 5, c.DailyQuota)
}

func TestUsageRecord_SetUsageAndError(t *testing.T) {
	var r UsageRecord
	r.SetUsage(nil)
	assert.Nil(t, r.TotalTokens)

	r.SetUsage(&TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7})
	require.NotNil(t, r.TotalTokens)
	assert.Equal(t, 7, *r.TotalTokens)

	r.SetError("429", "quota")
	assert.Equal(t, "429", *r.ErrorCode)
	assert.Equal(t, "quota", *r.ErrorMessage)
}

func TestCredential_Validate(t *testing.T) {
	valid := Credential{Secret: "AIza", GroupID: "g1"}
	assert.NoError(t, valid.Validate())

	noSecret := Credential{GroupID: "g1"}
	assert.ErrorIs(t, noSecret.Validate(), ErrInvalidInput)

	noGroup := Credential{Secret: "AIza"}
	assert.ErrorIs(t, noGroup.Validate(), ErrInvalidInput)

	negative := Credential{Secret: "AIza", GroupID: "g1", DailyQuota: -1}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidInput)
}

func TestGroup_Validate(t *testing.T) {
	assert.NoError(t, (&Group{Name: "prod"}).Validate())
	assert.ErrorIs(t, (&Group{Name: "  "}).Validate(), ErrInvalidInput)
}
