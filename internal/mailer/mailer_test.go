package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESTransport_Send(t *testing.T) {
	fake := &fakeSES{}
	tr := NewSESTransportWithClient(fake)

	err := tr.Send(context.Background(), Message{From: "ops@x.io", To: "a@x.io", Subject: "hi", Text: "t", HTML: "<p>h</p>"})
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "ops@x.io", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"a@x.io"}, in.Destination.ToAddresses)
	assert.Equal(t, "hi", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "t", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>h</p>", aws.ToString(in.Content.Simple.Body.Html.Data))
}

func TestSESTransport_Errors(t *testing.T) {
	tr := NewSESTransportWithClient(&fakeSES{err: errors.New("throttled")})

	err := tr.Send(context.Background(), Message{To: "a@x.io", Text: "t"})
	assert.ErrorContains(t, err, "throttled")

	assert.ErrorIs(t, tr.Send(context.Background(), Message{Text: "t"}), ErrNoRecipient)
	assert.ErrorIs(t, tr.Send(context.Background(), Message{To: "a@x.io"}), ErrNoBody)
}

func TestSMTPTransport_BuildsMultipart(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	tr := NewSMTPTransport("relay.local", 0, "u", "p")
	tr.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := tr.Send(context.Background(), Message{From: "Ops <ops@x.io>", To: "a@x.io", Subject: "s", Text: "plain", HTML: "<b>rich</b>"})
	require.NoError(t, err)
	assert.Equal(t, "relay.local:587", gotAddr)
	assert.Equal(t, "ops@x.io", gotFrom)
	assert.Equal(t, []string{"a@x.io"}, gotTo)

	body := string(gotMsg)
	assert.Contains(t, body, "multipart/alternative")
	assert.Contains(t, body, "plain")
	assert.Contains(t, body, "<b>rich</b>")
}

func TestWithDefaultFrom(t *testing.T) {
	fake := &fakeSES{}
	tr := WithDefaultFrom(NewSESTransportWithClient(fake), "reports@x.io")

	require.NoError(t, tr.Send(context.Background(), Message{To: "a@x.io", Text: "t"}))
	assert.Equal(t, "reports@x.io", aws.ToString(fake.inputs[0].FromEmailAddress))
}

func TestRenderer_VerificationReport(t *testing.T) {
	r := NewRenderer()
	msg, err := r.VerificationReport(Report{
		JobID:         "job-1",
		Status:        "completed",
		Total:         10,
		Valid:         7,
		Invalid:       3,
		InvalidEmails: []string{"x@y.io"},
		StartedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CompletedAt:   time.Date(2026, 1, 2, 3, 5, 5, 0, time.UTC),
	}, "admin@x.io")
	require.NoError(t, err)

	assert.Equal(t, "admin@x.io", msg.To)
	assert.Equal(t, "SMTP verification completed: 7/10 valid", msg.Subject)
	assert.Contains(t, msg.Text, "Valid:   7 (70.0%)")
	assert.Contains(t, msg.Text, "x@y.io")
	assert.Contains(t, msg.HTML, "<li>x@y.io</li>")
	assert.False(t, strings.Contains(msg.Text, "Error:"))
}

func TestRenderer_CachesByKey(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("k", "Hello {{ name | default: \"there\" }}", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)

	// Same key reuses the first template even with different source.
	out, err = r.Render("k", "ignored", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ann", out)

	_, err = r.Render("", "{% if %}", nil)
	assert.Error(t, err)
}
