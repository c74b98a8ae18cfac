package cui

import (
	"context"
	"fmt"
	"time"

	"github.com/MswTester/sendrop/client"
	"github.com/MswTester/sendrop/config"
	"github.com/MswTester/sendrop/styles"
	"github.com/charmbracelet/huh"
)

type ClientUI struct {
	client *client.Client
	cfg    config.ClientConfig
}

func New(client *client.Client, cfg config.ClientConfig) *ClientUI {
	return &ClientUI{
		client: client,
		cfg:    cfg,
	}
}

func (cui *ClientUI) Banner() {
	fmt.Println(
		styles.TITLE.Render("sendrop"),
		styles.SUCCESS.Render(fmt.Sprintf("as %s (%s)", cui.client.Self.UserAgent, cui.client.Self.IP)),
		styles.DEVICE.Render(styles.ShortID(cui.client.Self.ID)),
	)
}

// Menu runs the interactive loop until the user quits or the hub goes away.
func (cui *ClientUI) Menu(ctx context.Context, dir string) error {
	for {
		select {
		case <-cui.client.Done():
			return fmt.Errorf("hub connection lost: %w", cui.client.Err())
		case <-ctx.Done():
			return nil
		default:
		}

		switch cui.showMainMenu() {
		case "text":
			cui.sendText(ctx)

		case "file":
			cui.sendFiles(ctx, dir)

		case "requests":
			cui.answerPending(ctx)

		case "devices":
			cui.displayDevices()

		case "quit":
			return nil
		}
	}
}

func (cui *ClientUI) showMainMenu() string {
	var option string
	count := cui.client.CountDevices()
	waiting := len(cui.client.Requests())

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("what would you like to do?").
				Options(
					huh.NewOption(fmt.Sprintf("send text (%d devices available)", count), "text"),
					huh.NewOption(fmt.Sprintf("send files (%d devices available)", count), "file"),
					huh.NewOption(fmt.Sprintf("answer requests (%d waiting)", waiting), "requests"),
					huh.NewOption("list devices", "devices"),
					huh.NewOption("quit", "quit"),
				).
				Value(&option),
		),
	)

	err := form.Run()
	if err != nil {
		return "quit"
	}
	return option
}

func (cui *ClientUI) showConfirm(title string, duration time.Duration) (bool, error) {
	var confirm bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Affirmative("accept").
				Negative("reject").
				Title(title).
				Value(&confirm),
		),
	).WithTimeout(duration)

	err := form.Run()
	if err != nil {
		return false, err
	}

	return confirm, nil
}

func (cui *ClientUI) askText() (string, error) {
	var text string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("text to send").
				CharLimit(4000).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("nothing to send")
					}
					return nil
				}).
				Value(&text),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}

	return text, nil
}

func (cui *ClientUI) displayDevices() {
	devices := cui.client.Devices()

	if len(devices) == 0 {
		fmt.Println(styles.INFO.Render("no other devices connected"))
		return
	}

	fmt.Println(styles.INFO.Render("devices"))

	for _, id := range cui.client.DeviceIDs() {
		d := devices[id]
		fmt.Println(
			styles.SUCCESS.PaddingLeft(2).Render(fmt.Sprintf("%s (%s)", d.UserAgent, d.IP)),
			styles.DEVICE.Render(styles.ShortID(id)),
		)
	}
}
