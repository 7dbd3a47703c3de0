package spinning

import (
	"bytes"
	"context"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNew_NotTerminal(t *testing.T) {
	var buf bytes.Buffer
	saved := Output
	Output = &buf
	defer func() { Output = saved }()

	s := New(context.Background(), "compiling")
	s.Done()
	s.Done()
	require.Empty(t, buf.String())
}

func TestDone_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(ctx, "compiling")
	s.Done()
}

func TestSetTheme(t *testing.T) {
	saved := Theme
	defer func() { Theme = saved }()
	require.NoError(t, SetTheme("moon"))
	require.Equal(t, ThemeMoon, Theme)
	require.ErrorContains(t, SetTheme("stars"), "stars")
	require.Equal(t, ThemeMoon, Theme)
}
