// Package protocol implements the wire formats shared by the router and
// CD-key services: the tagged value tree, router message framing with
// bundling, and CD-key datagram framing. All multi-byte integers are
// big-endian unless noted otherwise.
package protocol

import "fmt"

// HeaderSize is the length of a router message header.
const HeaderSize = 6

// MaxMessageSize is the largest router message accepted or produced.
const MaxMessageSize = 0x50000

// MessageType identifies a router message (header byte 4).
type MessageType uint8

// Router message types.
const (
	MsgNewUserRequest         MessageType = 1
	MsgConnectionRequest      MessageType = 2
	MsgPlayerNew              MessageType = 3
	MsgDisconnection          MessageType = 4
	MsgPlayerRemoved          MessageType = 5
	MsgEventUDPConnect        MessageType = 6
	MsgNews                   MessageType = 7
	MsgSearchPlayer           MessageType = 8
	MsgRemoveAccount          MessageType = 9
	MsgServersList            MessageType = 11
	MsgSessionList            MessageType = 13
	MsgPlayerList             MessageType = 15
	MsgGetGroupInfo           MessageType = 16
	MsgGroupInfo              MessageType = 17
	MsgGetPlayerInfo          MessageType = 18
	MsgPlayerInfo             MessageType = 19
	MsgChatAll                MessageType = 20
	MsgChatList               MessageType = 21
	MsgChatSession            MessageType = 22
	MsgChat                   MessageType = 24
	MsgCreateSession          MessageType = 26
	MsgSessionNew             MessageType = 27
	MsgJoinSession            MessageType = 28
	MsgJoinNew                MessageType = 31
	MsgLeaveSession           MessageType = 32
	MsgJoinLeave              MessageType = 33
	MsgSessionRemove          MessageType = 34
	MsgGSSuccess              MessageType = 38
	MsgGSFail                 MessageType = 39
	MsgBeginGame              MessageType = 40
	MsgUpdatePlayerInfo       MessageType = 45
	MsgMasterChanged          MessageType = 48
	MsgUpdateSessionState     MessageType = 51
	MsgUrgentMessage          MessageType = 52
	MsgNewWaitModule          MessageType = 54
	MsgKillModule             MessageType = 55
	MsgStillAlive             MessageType = 58
	MsgPing                   MessageType = 59
	MsgPlayerKick             MessageType = 60
	MsgPlayerMute             MessageType = 61
	MsgAllowGame              MessageType = 62
	MsgForbidGame             MessageType = 63
	MsgGameList               MessageType = 64
	MsgUpdateAdvertisments    MessageType = 65
	MsgUpdateNews             MessageType = 66
	MsgVersionList            MessageType = 67
	MsgUpdateVersions         MessageType = 68
	MsgUpdateDistantRouters   MessageType = 70
	MsgAdminLogin             MessageType = 71
	MsgStatPlayer             MessageType = 72
	MsgStatGame               MessageType = 73
	MsgUpdateFriend           MessageType = 74
	MsgAddFriend              MessageType = 75
	MsgDelFriend              MessageType = 76
	MsgLoginWaitModule        MessageType = 77
	MsgLoginFriends           MessageType = 78
	MsgAddIgnoreFriend        MessageType = 79
	MsgDelIgnoreFriend        MessageType = 80
	MsgStatusChange           MessageType = 81
	MsgJoinArena              MessageType = 82
	MsgLeaveArena             MessageType = 83
	MsgIgnoreList             MessageType = 84
	MsgIgnoreFriend           MessageType = 85
	MsgGetArena               MessageType = 86
	MsgGetSession             MessageType = 87
	MsgPagePlayer             MessageType = 88
	MsgFriendList             MessageType = 89
	MsgPeerMsg                MessageType = 90
	MsgPeerPlayer             MessageType = 91
	MsgDisconnectFriends      MessageType = 92
	MsgJoinWaitModule         MessageType = 93
	MsgLoginSession           MessageType = 94
	MsgDisconnectSession      MessageType = 95
	MsgPlayerDisconnect       MessageType = 96
	MsgAdvertisement          MessageType = 97
	MsgModifyUser             MessageType = 98
	MsgStartGame              MessageType = 99
	MsgChangeVersion          MessageType = 100
	MsgPager                  MessageType = 101
	MsgLogin                  MessageType = 102
	MsgPhoto                  MessageType = 103
	MsgLoginArena             MessageType = 104
	MsgRouterList             MessageType = 127
	MsgDistanceVector         MessageType = 131
	MsgWrappedMessage         MessageType = 132
	MsgArenaConnection        MessageType = 138
	MsgArenaDisconnection     MessageType = 139
	MsgArenaWaitModule        MessageType = 140
	MsgArenaNew               MessageType = 141
	MsgArenaRemoved           MessageType = 144
	MsgSessionsBegin          MessageType = 146
	MsgGroupData              MessageType = 148
	MsgArenaMessage           MessageType = 151
	MsgArenaListRequest       MessageType = 157
	MsgRouterPlayerNew        MessageType = 158
	MsgBaseGroupRequest       MessageType = 159
	MsgUpdatePlayerPing       MessageType = 166
	MsgUpdateGroupSize        MessageType = 169
	MsgSleep                  MessageType = 179
	MsgWakeUp                 MessageType = 180
	MsgSystemPage             MessageType = 181
	MsgSessionOpen            MessageType = 189
	MsgSessionClose           MessageType = 190
	MsgLoginClanManager       MessageType = 192
	MsgDisconnectClanManager  MessageType = 193
	MsgClanManagerPage        MessageType = 194
	MsgUpdateClanPlayer       MessageType = 195
	MsgPlayerClans            MessageType = 196
	MsgGetPersistantGroupInfo MessageType = 199
	MsgUpdateGroupPing        MessageType = 202
	MsgDeferredGameStarted    MessageType = 203
	MsgProxyHandler           MessageType = 204
	MsgBeginClientHostGame    MessageType = 205
	MsgLobbyMsg               MessageType = 209
	MsgLobbyServerLogin       MessageType = 210
	MsgSetGroupSZData         MessageType = 211
	MsgGroupSZData            MessageType = 212
	MsgKeyExchange            MessageType = 219
	MsgRequestPortID          MessageType = 221
)

var messageTypeNames = map[MessageType]string{
	MsgPlayerInfo:      "PLAYERINFO",
	MsgGSSuccess:       "GSSUCCESS",
	MsgGSFail:          "GSFAIL",
	MsgStillAlive:      "STILLALIVE",
	MsgPing:            "PING",
	MsgLoginWaitModule: "LOGINWAITMODULE",
	MsgJoinWaitModule:  "JOINWAITMODULE",
	MsgLogin:           "LOGIN",
	MsgLobbyMsg:        "LOBBY_MSG",
	MsgKeyExchange:     "KEY_EXCHANGE",
}

// String returns the protocol name of the message type, or its number.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MSG_%d", uint8(t))
}

// Confidentiality selects the payload transform of a router message. It
// occupies the top two bits of header byte 3.
type Confidentiality uint8

const (
	// Obfuscated payloads pass through the keyless GS transform.
	Obfuscated Confidentiality = 0
	// Raw payloads are sent as a plain value tree.
	Raw Confidentiality = 1
	// SessionEncrypted payloads use the per-direction Blowfish session key.
	SessionEncrypted Confidentiality = 2
	// confidentialityReserved is defined on the wire but never used.
	confidentialityReserved Confidentiality = 3
)

// String returns a readable confidentiality name.
func (c Confidentiality) String() string {
	switch c {
	case Obfuscated:
		return "obfuscated"
	case Raw:
		return "raw"
	case SessionEncrypted:
		return "session_encrypted"
	case confidentialityReserved:
		return "reserved"
	default:
		return fmt.Sprintf("confidentiality(%d)", uint8(c))
	}
}

// Target is a sender or receiver role, packed as a nibble in header byte 5.
type Target uint8

const (
	TargetRouter      Target = 1
	TargetSession     Target = 2
	TargetWaitModule  Target = 3
	TargetPlayer      Target = 4
	TargetArenaPlayer Target = 5
	TargetBroadcast   Target = 6
	TargetLobbyPlayer Target = 7
	TargetUnknown     Target = 8
	TargetGame        Target = 9
	TargetArena       Target = 10
)

// CD-key datagram constants.
const (
	// CDKeyMessageType is the category byte carried by every CD-key datagram.
	CDKeyMessageType byte = 211
	// CDKeyHeaderSize is the type byte plus the 4-byte payload length.
	CDKeyHeaderSize = 5
	// CDKeyMaxPayload bounds the declared payload length of a datagram.
	CDKeyMaxPayload = 512
)

// CDKeyRequestType identifies a CD-key request.
type CDKeyRequestType int

const (
	CDKeyChallenge      CDKeyRequestType = 1
	CDKeyActivation     CDKeyRequestType = 2
	CDKeyAuth           CDKeyRequestType = 3
	CDKeyValidation     CDKeyRequestType = 4
	CDKeyPlayerStatus   CDKeyRequestType = 5
	CDKeyDisconnectUser CDKeyRequestType = 6
	CDKeyStillAlive     CDKeyRequestType = 7
)

var cdkeyRequestNames = map[CDKeyRequestType]string{
	CDKeyChallenge:      "challenge",
	CDKeyActivation:     "activation",
	CDKeyAuth:           "auth",
	CDKeyValidation:     "validation",
	CDKeyPlayerStatus:   "player_status",
	CDKeyDisconnectUser: "disconnect_user",
	CDKeyStillAlive:     "still_alive",
}

// String returns a readable request type name.
func (t CDKeyRequestType) String() string {
	if name, ok := cdkeyRequestNames[t]; ok {
		return name
	}
	return fmt.Sprintf("request_%d", int(t))
}

// PlayerStatus values reported by CD-key validation responses.
const (
	PlayerStatusUnknown = 0
	PlayerStatusInvalid = 1
	PlayerStatusValid   = 2
)
