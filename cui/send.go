package cui

import (
	"context"
	"errors"
	"fmt"

	"github.com/MswTester/sendrop/client"
	"github.com/MswTester/sendrop/progress"
	"github.com/MswTester/sendrop/styles"
	"github.com/MswTester/sendrop/types"
	"github.com/charmbracelet/huh/spinner"
)

func (cui *ClientUI) sendText(ctx context.Context) {
	target, err := cui.selectDevice()
	if err != nil {
		fmt.Println(styles.INFO.Render(err.Error()))
		return
	}

	text, err := cui.askText()
	if err != nil {
		return
	}

	if err := cui.SendText(ctx, target, text); err != nil {
		fmt.Println(styles.ERROR.Render(err.Error()))
	}
}

// SendText waits behind a spinner while the peer decides.
func (cui *ClientUI) SendText(ctx context.Context, target, text string) error {
	err := spinner.New().
		Title("waiting for response...").
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			return cui.client.SendText(ctx, client.Offer{
				TargetID: target,
				Text:     text,
				Timeout:  cui.cfg.Timeout,
			})
		}).
		Run()
	if err != nil {
		return describe(err)
	}

	fmt.Println(styles.SUCCESS.Render("text delivered ✓"))
	return nil
}

func (cui *ClientUI) sendFiles(ctx context.Context, dir string) {
	target, err := cui.selectDevice()
	if err != nil {
		fmt.Println(styles.INFO.Render(err.Error()))
		return
	}

	files, err := cui.selectFiles(dir)
	if err != nil {
		fmt.Println(styles.INFO.Render(err.Error()))
		return
	}

	if err := cui.SendFiles(ctx, target, files); err != nil {
		fmt.Println(styles.ERROR.Render(err.Error()))
	}
}

// SendFiles offers the files one after another; each needs its own accept.
func (cui *ClientUI) SendFiles(ctx context.Context, target string, files []types.FileInfo) error {
	for _, f := range files {
		if err := cui.sendFile(ctx, target, f); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}

		fmt.Println(styles.SUCCESS.Render(fmt.Sprintf("sent %s (%d bytes) ✓", f.Name, f.Size)))
	}

	return nil
}

func (cui *ClientUI) sendFile(ctx context.Context, target string, f types.FileInfo) error {
	accepted := make(chan struct{})
	errch := make(chan error, 1)

	p := progress.New()
	var bar *progress.Bar

	// bar is only touched by the sending goroutine until errch is read.
	go func() {
		errch <- cui.client.SendFile(ctx, client.Offer{
			TargetID:  target,
			Path:      f.Path,
			ChunkSize: cui.cfg.ChunkSize,
			Timeout:   cui.cfg.Timeout,
			OnAccepted: func() {
				bar = p.NewBar(f.Size, f.Name)
				close(accepted)
			},
			OnChunk: func(n int) { bar.Add(n) },
		})
	}()

	err := spinner.New().
		Title(fmt.Sprintf("offering %s...", f.Name)).
		Context(ctx).
		ActionWithErr(func(ctx context.Context) error {
			select {
			case <-accepted:
				return nil
			case err := <-errch:
				errch <- err
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}).
		Run()
	if err != nil {
		return describe(err)
	}

	sendErr := <-errch
	switch {
	case sendErr != nil:
		bar.Abort()
	case f.Size == 0:
		bar.Done()
	}
	p.Wait()

	return describe(sendErr)
}

func describe(err error) error {
	if err == nil {
		return nil
	}

	var remote *client.RemoteError
	if errors.As(err, &remote) {
		return fmt.Errorf("hub refused: %s", remote.Message)
	}

	return err
}
