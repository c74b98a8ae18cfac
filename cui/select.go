package cui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MswTester/sendrop/styles"
	"github.com/MswTester/sendrop/types"
	"github.com/charmbracelet/huh"
)

var (
	ErrNoDevices = errors.New("no other devices connected")
	ErrCancelled = errors.New("selection cancelled")
)

func (cui *ClientUI) selectDevice() (string, error) {
	devices := cui.client.Devices()
	if len(devices) == 0 {
		return "", ErrNoDevices
	}

	var options []huh.Option[string]
	for _, id := range cui.client.DeviceIDs() {
		d, ok := devices[id]
		if !ok {
			continue
		}
		options = append(options, huh.NewOption(deviceLabel(id, d), id))
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("send to").
				Options(options...).
				Value(&selected),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}

	return selected, nil
}

func deviceLabel(id string, d types.DeviceInfo) string {
	return fmt.Sprintf("%s (%s) %s", d.UserAgent, d.IP, styles.DEVICE.Render(styles.ShortID(id)))
}

// ResolveDevice finds a device by id, id prefix, or a case-insensitive
// fragment of its display name or address.
func ResolveDevice(devices types.UpdateDevices, query string) (string, error) {
	if _, ok := devices[query]; ok {
		return query, nil
	}

	q := strings.ToLower(query)

	var matches []string
	for id, d := range devices {
		if strings.HasPrefix(id, query) ||
			strings.Contains(strings.ToLower(d.UserAgent), q) ||
			d.IP == query {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no device matches %q", query)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d devices, be more specific", query, len(matches))
	}
}

// selectFiles browses from dir and returns the picked files.
func (cui *ClientUI) selectFiles(dir string) ([]types.FileInfo, error) {
	selectedFiles := make(map[string]types.FileInfo)
	currentDir := dir
	var selected string

	for {
		entries, err := os.ReadDir(currentDir)
		if err != nil {
			return nil, err
		}

		var options []huh.Option[string]

		options = append(options, huh.NewOption("../", "../"))
		options = appendEntries(options, entries, selectedFiles, currentDir)
		options = append(options, huh.NewOption("done", "done"))
		options = append(options, huh.NewOption("cancel", "cancel"))

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title(fmt.Sprintf("browsing: %s (%d files selected)", currentDir, len(selectedFiles))).
					Options(options...).
					Height(20).
					Value(&selected),
			),
		)

		if err := form.Run(); err != nil {
			return nil, err
		}

		switch selected {
		case "cancel":
			return nil, ErrCancelled

		case "done":
			if len(selectedFiles) == 0 {
				return nil, fmt.Errorf("no file selected")
			}
			return sortedFiles(selectedFiles), nil

		default:
			fullPath := filepath.Join(currentDir, selected)
			info, err := os.Stat(fullPath)
			if err != nil {
				fmt.Println(styles.ERROR.Render(fmt.Sprintf("failed to access %s: %v", fullPath, err)))
				continue
			}

			if info.IsDir() {
				currentDir = fullPath
				continue
			}

			toggle(selectedFiles, fullPath, info)
		}
	}
}

func toggle(selected map[string]types.FileInfo, fullPath string, info os.FileInfo) {
	if _, ok := selected[fullPath]; ok {
		delete(selected, fullPath)
		return
	}

	selected[fullPath] = types.FileInfo{
		Name: info.Name(),
		Size: info.Size(),
		Path: fullPath,
	}
}

func sortedFiles(selected map[string]types.FileInfo) []types.FileInfo {
	files := make([]types.FileInfo, 0, len(selected))
	for _, f := range selected {
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func appendEntries(options []huh.Option[string], entries []os.DirEntry, selected map[string]types.FileInfo, currentDir string) []huh.Option[string] {
	for _, entry := range entries {
		if entry.IsDir() {
			options = append(options, huh.NewOption(entry.Name()+"/", entry.Name()))
		}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		name := entry.Name()
		display := name
		if _, ok := selected[filepath.Join(currentDir, name)]; ok {
			display = styles.SUCCESS.Render("[x] " + name)
		}

		options = append(options, huh.NewOption(fmt.Sprintf("%s (%d bytes)", display, info.Size()), name))
	}

	return options
}
