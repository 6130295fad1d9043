package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/intake/internal/classify"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file>...",
	Short: "Show how intake would classify files",
	Long: `Print the content kind intake assigns to each file, along with the sniffed
MIME type. Nothing is uploaded or moved.

Examples:
  intake classify scan.dcm bundle.7z
  intake classify /data/failed/*`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	return classifyFiles(cmd.OutOrStdout(), classify.New(cfg.OpaqueTypes...), args)
}

func classifyFiles(out io.Writer, c *classify.Classifier, paths []string) error {
	var (
		ok   = lipgloss.NewStyle().Foreground(defaultTheme.Success)
		bad  = lipgloss.NewStyle().Foreground(defaultTheme.Error)
		dim  = defaultTheme.hintStyle()
		errs []error
	)

	width := 0
	for _, p := range paths {
		width = max(width, len(p))
	}
	name := lipgloss.NewStyle().Width(width + 2)

	for _, p := range paths {
		kind, err := c.Classify(p)
		if err != nil {
			fmt.Fprintf(out, "%s%s\n", name.Render(p), bad.Render("error: "+err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}

		style := ok
		if !kind.Uploadable() {
			style = bad
		}
		mime, _ := classify.Detect(p)
		fmt.Fprintf(out, "%s%s %s\n", name.Render(p), style.Render(fmt.Sprintf("%-18s", kind)), dim.Render(mime+contentTypeHint(kind)))
	}
	return errors.Join(errs...)
}

// contentTypeHint names the Content-Type the item would be uploaded with.
func contentTypeHint(kind models.ContentKind) string {
	switch kind {
	case models.KindSourceArchive, models.KindCanonicalArchive:
		return " → " + models.ContentTypeZip
	case models.KindOpaqueBinary:
		return " → " + cfg.OpaqueContentType
	default:
		return ""
	}
}
