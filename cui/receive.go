package cui

import (
	"context"
	"fmt"

	"github.com/MswTester/sendrop/client"
	"github.com/MswTester/sendrop/progress"
	"github.com/MswTester/sendrop/styles"
	"github.com/MswTester/sendrop/types"
)

// answerPending walks the requests queued while the menu was open.
func (cui *ClientUI) answerPending(ctx context.Context) {
	for {
		select {
		case req := <-cui.client.Requests():
			cui.answer(ctx, req)
		default:
			fmt.Println(styles.INFO.Render("no requests waiting"))
			return
		}
	}
}

// Serve answers incoming requests until ctx is done or the hub goes away.
func (cui *ClientUI) Serve(ctx context.Context) error {
	fmt.Println(styles.INFO.Render(fmt.Sprintf("waiting for transfers, saving to %s", cui.cfg.Dir)))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-cui.client.Done():
			return fmt.Errorf("hub connection lost: %w", cui.client.Err())

		case req := <-cui.client.Requests():
			cui.answer(ctx, req)
		}
	}
}

func (cui *ClientUI) answer(ctx context.Context, req client.Request) {
	ok, err := cui.confirm(req)
	if err != nil || !ok {
		if err := cui.client.Reject(req); err != nil {
			fmt.Println(styles.ERROR.Render(fmt.Sprintf("failed to reject: %v", err)))
			return
		}
		fmt.Println(styles.WARNING.Render(fmt.Sprintf("rejected request from %s", req.Sender)))
		return
	}

	switch req.Kind {
	case types.KindText:
		text, err := cui.client.AcceptText(ctx, req, cui.cfg.Timeout)
		if err != nil {
			fmt.Println(styles.ERROR.Render(fmt.Sprintf("text from %s failed: %v", req.Sender, describe(err))))
			return
		}
		fmt.Println(styles.INFO.Render(fmt.Sprintf("from %s", req.Sender)))
		fmt.Println(styles.TEXT.Render(text))

	case types.KindFile:
		p := progress.New()
		bar := p.NewBar(req.FileSize, req.FileName)

		path, err := cui.client.AcceptFile(ctx, req, cui.cfg.Dir, bar.Add)
		if err != nil {
			bar.Abort()
			p.Wait()
			fmt.Println(styles.ERROR.Render(fmt.Sprintf("%s from %s failed: %v", req.FileName, req.Sender, describe(err))))
			return
		}

		if req.FileSize <= 0 {
			bar.Done()
		}
		p.Wait()
		fmt.Println(styles.SUCCESS.Render(fmt.Sprintf("saved %s ✓", path)))
	}
}

func (cui *ClientUI) confirm(req client.Request) (bool, error) {
	title := fmt.Sprintf("%s wants to send you a text", req.Sender)
	if req.Kind == types.KindFile {
		title = fmt.Sprintf("%s wants to send you %s (%d bytes)", req.Sender, req.FileName, req.FileSize)
	}

	if cui.cfg.AutoYes {
		fmt.Println(styles.INFO.Render(title))
		return true, nil
	}

	return cui.showConfirm(title, cui.cfg.Timeout)
}
