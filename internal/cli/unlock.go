package cli

import (
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release this shell's session lock",
	Args:  cobra.NoArgs,
	RunE:  runUnlock,
}

func runUnlock(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	prev, err := a.store.Unlock(a.shellID)
	if err != nil {
		return err
	}
	if prev == "" {
		a.println(dimStyle.Render("no session lock held for this shell"))
		return nil
	}
	a.println(successStyle.Render("Released lock on session " + prev))
	return nil
}
