package dialog

import "fmt"

const (
	msgAskGroupName   = "Write a name of a WG you want to create"
	msgAskGroupID     = "Write an ID of WG you want to join"
	msgAskSensorID    = "Write an DevEUI of sensor for bin"
	msgAskLabel       = "Now write a name of a bin, e.g. Bio or Papier"
	msgJoined         = "You joined a WG"
	msgBinAdded       = "You added a bin"
	msgAlreadyMember  = "You are already in a WG, a user can only belong to one WG"
	msgNeedGroup      = "You should be in a WG, create or join a WG in order to add a bin"
	msgUnknownGroup   = "There is no WG with this id, ask your inhabitants for the right one"
	msgGroupIDNumeric = "A WG id is a number. Write an ID of WG you want to join"
	msgFailure        = "Something went wrong, please try again later 😕"
	msgTextOnly       = "Please answer with a text message."
)

func msgCreated(id int64) string {
	return fmt.Sprintf("Here is your WG id, share it with your inhabitants %d", id)
}

func msgTooLong(what string, max int) string {
	return fmt.Sprintf("The %s must be 1-%d characters long, try again", what, max)
}
