package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), " user:42 ")
	kind, id := ActorFromContext(ctx)
	assert.Equal(t, "user", kind)
	assert.Equal(t, "42", id)
	assert.Equal(t, "user:42", ActorString(ctx))

	ctx = WithActor(ctx, "system")
	assert.Equal(t, "system", ActorString(ctx))
	assert.Equal(t, "", ActorString(context.Background()))
}
