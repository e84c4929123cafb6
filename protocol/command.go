/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package protocol implements the line-oriented wire format: one command
// per line, fields separated by a bare \r, the line itself terminated by
// \n. There is no escaping, so field values may not contain either byte.
package protocol

// Tag names every command variant by its wire-format first token.
type Tag string

const (
	TagSay                Tag = "say"
	TagNick               Tag = "nick"
	TagResponse           Tag = "response"
	TagLogin              Tag = "login"
	TagRegister           Tag = "register"
	TagFriendRequest      Tag = "friend_request"
	TagFriendAccept       Tag = "friend_accept"
	TagFriendReject       Tag = "friend_reject"
	TagFriendRemove       Tag = "friend_remove"
	TagListFriend         Tag = "list_friend"
	TagListFriendRequest  Tag = "list_friend_request"
	TagCreateRoom         Tag = "create_room"
	TagDeleteRoom         Tag = "delete_room"
	TagInviteRoom         Tag = "invite_room"
	TagLeaveRoom          Tag = "leave_room"
	TagListRoom           Tag = "list_room"
	TagHistory            Tag = "history"
	tagEmptyLine          Tag = ""
	tagInvalidCommand     Tag = "invalid_command"
	tagUnexpectedArgument Tag = "unexpected_argument"
)

// Command is the tagged-union protocol command. Exactly one of the
// pointer-typed fields is non-nil for a well-formed decode; EmptyLine,
// InvalidTag and UnexpectedArgsTag cover the three decode-failure shapes the
// codec must never panic on.
type Command struct {
	Say                *Say
	Nick                *Nick
	Response            *Response
	Login               *Login
	Register            *Register
	FriendRequest       *FriendRequest
	FriendAccept        *FriendAccept
	FriendReject        *FriendReject
	FriendRemove        *FriendRemove
	ListFriend          *ListFriend
	ListFriendRequest   *ListFriendRequest
	CreateRoom          *CreateRoom
	DeleteRoom          *DeleteRoom
	InviteRoom          *InviteRoom
	LeaveRoom           *LeaveRoom
	ListRoom            *ListRoom
	History             *History
	EmptyLine           bool
	InvalidTag          Tag
	UnexpectedArgsTag   Tag
}

// Tag reports which wire tag this decoded command carries, or one of the
// sentinel decode-failure tags.
func (c Command) Tag() Tag {
	switch {
	case c.Say != nil:
		return TagSay
	case c.Nick != nil:
		return TagNick
	case c.Response != nil:
		return TagResponse
	case c.Login != nil:
		return TagLogin
	case c.Register != nil:
		return TagRegister
	case c.FriendRequest != nil:
		return TagFriendRequest
	case c.FriendAccept != nil:
		return TagFriendAccept
	case c.FriendReject != nil:
		return TagFriendReject
	case c.FriendRemove != nil:
		return TagFriendRemove
	case c.ListFriend != nil:
		return TagListFriend
	case c.ListFriendRequest != nil:
		return TagListFriendRequest
	case c.CreateRoom != nil:
		return TagCreateRoom
	case c.DeleteRoom != nil:
		return TagDeleteRoom
	case c.InviteRoom != nil:
		return TagInviteRoom
	case c.LeaveRoom != nil:
		return TagLeaveRoom
	case c.ListRoom != nil:
		return TagListRoom
	case c.History != nil:
		return TagHistory
	case c.EmptyLine:
		return tagEmptyLine
	case c.InvalidTag != "":
		return tagInvalidCommand
	default:
		return tagUnexpectedArgument
	}
}

// IsDecodeFailure reports whether this command is one of the three
// sentinel results Decode returns instead of a concrete variant.
func (c Command) IsDecodeFailure() bool {
	return c.EmptyLine || c.InvalidTag != "" || c.UnexpectedArgsTag != ""
}

type Say struct {
	RoomID string
	Text   string
}

type Nick struct {
	Nick string
}

type Response struct {
	Text string
}

type Login struct {
	ID       string
	Password string
}

type Register struct {
	ID       string
	Password string
}

type FriendRequest struct {
	To string
}

type FriendAccept struct {
	From string
}

type FriendReject struct {
	From string
}

type FriendRemove struct {
	Friend string
}

type ListFriend struct{}

type ListFriendRequest struct{}

type CreateRoom struct {
	Name string
}

type DeleteRoom struct {
	RoomID string
}

type InviteRoom struct {
	RoomID string
	Friend string
}

type LeaveRoom struct {
	RoomID string
}

type ListRoom struct{}

type History struct {
	RoomID string
	Limit  string
}
