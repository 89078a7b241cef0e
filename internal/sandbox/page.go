package sandbox

import (
	"context"
	"errors"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// RunPage plays a loaded page: it sets location and document, runs the
// scripts in order, fires load and runs queued timers. A throwing script is
// logged and the next one still runs. Cancellation and timeouts abort.
func (r *Runtime) RunPage(ctx context.Context, page *Page) error {
	r.SetLocation(page.URL)
	if err := r.AttachDOM(page.DOM); err != nil {
		return err
	}

	for i, script := range page.Scripts {
		name := script.Src
		if name == "" {
			name = page.URL + "#inline"
		}
		if _, err := r.ExecuteNamed(ctx, name, script.Code); err != nil {
			if fatal(ctx, err) {
				return err
			}
			r.logger.Info("content script error",
				zap.Int("index", i),
				zap.String("script", name),
				zap.Error(err))
		}
	}

	if err := r.Dispatch(ctx, "load"); err != nil {
		if fatal(ctx, err) {
			return err
		}
		r.logger.Info("content onload error", zap.Error(err))
	}
	return nil
}

func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrClosed) || errors.Is(err, ErrTimeout) {
		return true
	}
	var interrupted *goja.InterruptedError
	return errors.As(err, &interrupted)
}
