package protocol

import "fmt"

// ClientMsg identifies a client-to-server message. Client and server codes
// overlap numerically; the direction of travel disambiguates them.
type ClientMsg uint16

const (
	MsgLogin ClientMsg = iota
	MsgCreateGame
	MsgJoinGame
	MsgLeaveGame
	MsgReadyToPlay
	MsgStartGame
	MsgAttack
	MsgSetupFleet
)

func (m ClientMsg) String() string {
	switch m {
	case MsgLogin:
		return "LOGIN"
	case MsgCreateGame:
		return "CREATE_GAME"
	case MsgJoinGame:
		return "JOIN_GAME"
	case MsgLeaveGame:
		return "LEAVE_GAME"
	case MsgReadyToPlay:
		return "READY_TO_PLAY"
	case MsgStartGame:
		return "START_GAME"
	case MsgAttack:
		return "ATTACK"
	case MsgSetupFleet:
		return "SETUP_FLEET"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(m))
}

// ServerMsg identifies a server-to-client message.
type ServerMsg uint16

const (
	MsgWelcome ServerMsg = iota
	MsgGameCreated
	MsgGameJoined
	MsgErrorCreateGame
	MsgErrorJoinGame
	MsgErrorNotAuthenticated
	MsgGameStateUpdate
	MsgPlayerJoined
	MsgPlayerLeft
	MsgGameStarted
	MsgTurnOrderUpdate
	MsgYourTurn
	MsgAttackUpdate
	MsgGameFinished
	MsgErrorStartGame
	MsgErrorPlayerAction
	MsgErrorNotYourTurn
	MsgErrorUnexpectedMessage
	MsgErrorMalformedMessage
)

func (m ServerMsg) String() string {
	switch m {
	case MsgWelcome:
		return "WELCOME"
	case MsgGameCreated:
		return "GAME_CREATED"
	case MsgGameJoined:
		return "GAME_JOINED"
	case MsgErrorCreateGame:
		return "ERROR_CREATE_GAME"
	case MsgErrorJoinGame:
		return "ERROR_JOIN_GAME"
	case MsgErrorNotAuthenticated:
		return "ERROR_NOT_AUTHENTICATED"
	case MsgGameStateUpdate:
		return "GAME_STATE_UPDATE"
	case MsgPlayerJoined:
		return "PLAYER_JOINED"
	case MsgPlayerLeft:
		return "PLAYER_LEFT"
	case MsgGameStarted:
		return "GAME_STARTED"
	case MsgTurnOrderUpdate:
		return "TURN_ORDER_UPDATE"
	case MsgYourTurn:
		return "YOUR_TURN"
	case MsgAttackUpdate:
		return "ATTACK_UPDATE"
	case MsgGameFinished:
		return "GAME_FINISHED"
	case MsgErrorStartGame:
		return "ERROR_START_GAME"
	case MsgErrorPlayerAction:
		return "ERROR_PLAYER_ACTION"
	case MsgErrorNotYourTurn:
		return "ERROR_NOT_YOUR_TURN"
	case MsgErrorUnexpectedMessage:
		return "ERROR_UNEXPECTED_MESSAGE"
	case MsgErrorMalformedMessage:
		return "ERROR_MALFORMED_MESSAGE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(m))
}
