package cli

import (
	"github.com/spf13/cobra"
)

var createChatCmd = &cobra.Command{
	Use:   "create-chat [task]",
	Short: "Create a session and lock this shell to it, without running anything",
	Long: `create-chat prepares a session up front: it is created with the given task
(or a placeholder), becomes the shell's current session, and the shell is
locked to it so later plain 'aiaim' invocations land there. No agent is
invoked; the first run in the session creates the chat.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreateChat,
}

func init() {
	createChatCmd.Flags().String("chat-id", "", "Existing agent chat id to bind to the new session")
}

func runCreateChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	task := placeholderPrompt
	if len(args) == 1 && args[0] != "" {
		task = args[0]
	}
	chatID, _ := cmd.Flags().GetString("chat-id")

	info, err := a.store.Create(task, chatID)
	if err != nil {
		return err
	}
	if err := a.store.SetLastSession(a.shellID, info.ID); err != nil {
		return err
	}
	if err := a.store.Lock(a.shellID, info.ID); err != nil {
		return err
	}

	out := successStyle.Render("Created session " + info.ID)
	if chatID != "" {
		out += "\n" + dimStyle.Render("chat: "+chatID)
	}
	out += "\n" + dimStyle.Render("This shell is locked to the session; run 'aiaim unlock' to release it.")
	a.println(out)
	return nil
}
