package menu

const (
	msgNeedGroup   = "You should be in a WG, create or join a WG in order to see the panel"
	msgMainMenu    = "Main menu 🏠"
	msgBinStatuses = "Bin statuses 🚮"
	msgHistory     = "Last 10 entries of history 📜"
	msgFarewell    = "See you next time! 👋"
	msgExpired     = "Sorry, I could not process this button click 😕 Please send /menu to get a new keyboard."
	msgOutdated    = "This keyboard is outdated, use the latest menu message."
	msgFailure     = "Something went wrong while loading the list, please try again later 😕"

	btnBins     = "get status of garbage bins 🚮"
	btnHistory  = "history 📜"
	btnQuit     = "quit 🚪"
	btnMainMenu = "Go to main menu 🏠"
)
