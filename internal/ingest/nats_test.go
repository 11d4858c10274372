package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

type ingesterStub struct {
	got []byte
	err error
}

func (s *ingesterStub) IngestJSON(ctx context.Context, data []byte) (models.IngestResult, error) {
	s.got = data
	if _, ok := ctx.Deadline(); !ok {
		return models.IngestResult{}, errors.New("expected a deadline")
	}
	if s.err != nil {
		return models.IngestResult{}, s.err
	}
	return models.IngestResult{Event: models.Event{ID: 11, Service: "payments", Level: models.LevelError}}, nil
}

func TestHandleMessageRepliesWithEvent(t *testing.T) {
	stub := &ingesterStub{}
	s := &Subscriber{ingester: stub, logger: utils.DiscardLogger()}

	reply := s.handleMessage(context.Background(), []byte(`{"service":"payments"}`))
	assert.Equal(t, `{"service":"payments"}`, string(stub.got))

	var ev models.Event
	require.NoError(t, json.Unmarshal(reply, &ev))
	assert.Equal(t, int64(11), ev.ID)
	assert.Equal(t, models.LevelError, ev.Level)
}

func TestHandleMessageRepliesWithError(t *testing.T) {
	for name, err := range map[string]error{
		"validation": utils.Invalid("validate.DecodeEvent", "malformed JSON"),
		"internal":   errors.New("store unavailable"),
	} {
		t.Run(name, func(t *testing.T) {
			s := &Subscriber{ingester: &ingesterStub{err: err}, logger: utils.DiscardLogger()}
			var out errorReply
			require.NoError(t, json.Unmarshal(s.handleMessage(context.Background(), []byte(`{`)), &out))
			assert.Equal(t, err.Error(), out.Error)
		})
	}
}

func TestStartWithoutConnection(t *testing.T) {
	s := &Subscriber{logger: utils.DiscardLogger()}
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Close())
}
