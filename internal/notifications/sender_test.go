package notifications

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowdesk-io/flowdesk/internal/models"
	"github.com/flowdesk-io/flowdesk/internal/utils"
)

var noRetry = utils.RetryPolicy{MaxAttempts: 1}

func TestSendAssignmentBuildsMail(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sender := NewSMTPSender(Config{
		Host: "smtp.example.com", Port: 587,
		From: "desk@flowdesk.example", Enabled: true,
	}, withSendFunc(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}))

	err := sender.SendAssignment(context.Background(), "worker@flowdesk.example", &models.Ticket{
		JobID: "KNC001", ClientName: "Knownco", Subject: "Q3 brief", Owner: "coord@flowdesk.example",
	})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, "desk@flowdesk.example", gotFrom)
	require.Equal(t, []string{"worker@flowdesk.example"}, gotTo)
	require.Contains(t, string(gotMsg), "Subject: [KNC001] assigned to you: Q3 brief")
	require.Contains(t, string(gotMsg), "Knownco")
}

func TestSendAssignmentDisabledIsNoop(t *testing.T) {
	called := false
	sender := NewSMTPSender(Config{Enabled: false},
		withSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			called = true
			return nil
		}))
	err := sender.SendAssignment(context.Background(), "x@y", &models.Ticket{JobID: "KNC001"})
	require.NoError(t, err)
	require.False(t, called)
}

func TestSendAssignmentWrapsTransportError(t *testing.T) {
	sender := NewSMTPSender(Config{Enabled: true, Host: "smtp.example.com", Port: 25},
		WithRetry(noRetry),
		withSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		}))
	err := sender.SendAssignment(context.Background(), "x@y", &models.Ticket{JobID: "KNC001"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "x@y")
}

func TestSendAssignmentRetriesTransientFailure(t *testing.T) {
	calls := 0
	sender := NewSMTPSender(Config{Enabled: true, Host: "smtp.example.com", Port: 587},
		WithRetry(utils.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		withSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			calls++
			if calls < 3 {
				return errors.New("421 try again later")
			}
			return nil
		}))
	err := sender.SendAssignment(context.Background(), "x@y", &models.Ticket{JobID: "KNC001"})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}
