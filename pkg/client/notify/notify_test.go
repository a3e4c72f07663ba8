package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	var r Recorder
	var n Notifier = &r

	n.EntryCreated(ctx, 1, 2, "a", 3)
	n.EntryMoved(ctx, 1, 2, "a", 4, "b", 3)
	n.AttributeChanged(ctx, 1, 3, "user.tag", AttrRemoved)

	assert.Equal(t, []Event{
		{Kind: KindCreated, Dev: 1, Dir: 2, Name: "a", Node: 3},
		{Kind: KindMoved, Dev: 1, Dir: 2, Name: "a", ToDir: 4, ToName: "b", Node: 3},
		{Kind: KindAttr, Dev: 1, Node: 3, Name: "user.tag", Cause: AttrRemoved},
	}, r.Events())

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestLoggingNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "DEBUG", "json", false)
	t.Cleanup(func() { logger.InitWithWriter(&bytes.Buffer{}, "INFO", "text", false) })

	Logging{}.EntryRemoved(context.Background(), 1, 2, "gone", 9)
	assert.Contains(t, buf.String(), `"msg":"entry removed"`)
	assert.Contains(t, buf.String(), `"filename":"gone"`)
}

func TestNopAndCauseString(t *testing.T) {
	assert.NotPanics(t, func() { Nop{}.EntryCreated(context.Background(), 0, 0, "", 0) })
	assert.Equal(t, "created", AttrCreated.String())
	assert.Equal(t, "changed", AttrChanged.String())
}
