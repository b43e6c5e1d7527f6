package observe

import (
	"testing"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

func newTestRecorder() *Recorder {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRecorder(log, EventBus.New())
}

func TestEmitPublishesOnBus(t *testing.T) {
	a := assert.New(t)
	r := newTestRecorder()

	var got *Event
	require.NoError(t, r.Bus().Subscribe(TopicAccount, func(ev *Event) { got = ev }))

	ec := errctx.New("create_account").WithAccount("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	r.Emit(TopicAccount, ec, "ok", "account created")

	require.NotNil(t, got)
	a.Equal("create_account", got.Operation)
	a.Equal(ec.CorrelationID, got.CorrelationID)
	a.Equal("0x9858EfFD232B4033E47d90003D41EC34EcaEda94", got.AccountID)
	a.Equal("ok", got.Outcome)
}

func TestPrivacyModeRedactsAccount(t *testing.T) {
	a := assert.New(t)
	r := newTestRecorder()
	r.SetPrivacyMode(true)

	var got *Event
	require.NoError(t, r.Bus().Subscribe(TopicAccount, func(ev *Event) { got = ev }))

	ec := errctx.New("create_account").WithAccount("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	r.Emit(TopicAccount, ec, "ok", "")

	require.NotNil(t, got)
	a.Equal("0x9858…da94", got.AccountID)
	a.NotContains(got.AccountID, "EfFD232B")
}

func TestRedact(t *testing.T) {
	a := assert.New(t)
	a.Equal("", Redact(""))
	a.Equal("…", Redact("short"))
	a.Equal("0x9858…da94", Redact("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"))
}
