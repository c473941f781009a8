package bot

const (
	msgStart = "Please create or join a WG, you need WG id in order to join a WG"
	msgHelp  = "Use /create_wg to create a WG or /join_wg to join one with its id. " +
		"Use /add_bin to register a garbage bin sensor and /menu to see bin statuses and history. " +
		"Use /clear to clear the stored button data so that you can see what happens if it is not available."
	msgCleared        = "All clear!"
	msgClearFailed    = "Could not clear the stored buttons, please try again later 😕"
	msgUnknownCommand = "I don't know this command. Send /help to see what I can do."
	msgHint           = "Send /menu to open the WG panel or /help for the list of commands."
	msgAdminOnly      = "This command is only available to the bot admin."
	msgSlowDown       = "Slow down a little, please 🙂"
)
