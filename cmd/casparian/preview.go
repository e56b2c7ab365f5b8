package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casparian/flow/pkg/ferrors"
)

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Show a structural preview of a file: its first N lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		head, _ := cmd.Flags().GetInt("head")
		if head <= 0 {
			head = 10
		}

		f, err := os.Open(args[0])
		if err != nil {
			return ferrors.InputInvalid("open file for preview", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return ferrors.InputInvalid("stat file for preview", err)
		}
		fmt.Printf("%s (%d bytes)\n", args[0], info.Size())

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for i := 0; i < head && sc.Scan(); i++ {
			fmt.Println(sc.Text())
		}
		return nil
	},
}

func init() {
	previewCmd.Flags().Int("head", 10, "Number of lines to show")
}
