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

package protocol

import (
	"strings"

	"github.com/nabbar/chatd/chaterr"
)

const (
	fieldSep byte = '\r'
	lineEnd  byte = '\n'
)

// Decode turns one \n-delimited line (terminator optional on input, the
// caller may or may not have stripped it already) into a Command. An
// empty line decodes to EmptyLine; an unrecognized tag to InvalidTag; a
// recognized tag with the wrong argument count to UnexpectedArgsTag.
func Decode(line []byte) Command {
	if len(line) > 0 && line[len(line)-1] == lineEnd {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return Command{EmptyLine: true}
	}

	tokens := strings.Split(string(line), string(fieldSep))
	tag := Tag(tokens[0])
	args := tokens[1:]

	arity := func(n int) bool { return len(args) == n }

	switch tag {
	case TagSay:
		if !arity(2) {
			break
		}
		return Command{Say: &Say{RoomID: args[0], Text: args[1]}}
	case TagNick:
		if !arity(1) {
			break
		}
		return Command{Nick: &Nick{Nick: args[0]}}
	case TagResponse:
		if !arity(1) {
			break
		}
		return Command{Response: &Response{Text: args[0]}}
	case TagLogin:
		if !arity(2) {
			break
		}
		return Command{Login: &Login{ID: args[0], Password: args[1]}}
	case TagRegister:
		if !arity(2) {
			break
		}
		return Command{Register: &Register{ID: args[0], Password: args[1]}}
	case TagFriendRequest:
		if !arity(1) {
			break
		}
		return Command{FriendRequest: &FriendRequest{To: args[0]}}
	case TagFriendAccept:
		if !arity(1) {
			break
		}
		return Command{FriendAccept: &FriendAccept{From: args[0]}}
	case TagFriendReject:
		if !arity(1) {
			break
		}
		return Command{FriendReject: &FriendReject{From: args[0]}}
	case TagFriendRemove:
		if !arity(1) {
			break
		}
		return Command{FriendRemove: &FriendRemove{Friend: args[0]}}
	case TagListFriend:
		if !arity(0) {
			break
		}
		return Command{ListFriend: &ListFriend{}}
	case TagListFriendRequest:
		if !arity(0) {
			break
		}
		return Command{ListFriendRequest: &ListFriendRequest{}}
	case TagCreateRoom:
		if !arity(1) {
			break
		}
		return Command{CreateRoom: &CreateRoom{Name: args[0]}}
	case TagDeleteRoom:
		if !arity(1) {
			break
		}
		return Command{DeleteRoom: &DeleteRoom{RoomID: args[0]}}
	case TagInviteRoom:
		if !arity(2) {
			break
		}
		return Command{InviteRoom: &InviteRoom{RoomID: args[0], Friend: args[1]}}
	case TagLeaveRoom:
		if !arity(1) {
			break
		}
		return Command{LeaveRoom: &LeaveRoom{RoomID: args[0]}}
	case TagListRoom:
		if !arity(0) {
			break
		}
		return Command{ListRoom: &ListRoom{}}
	case TagHistory:
		if !arity(2) {
			break
		}
		return Command{History: &History{RoomID: args[0], Limit: args[1]}}
	default:
		return Command{InvalidTag: tag}
	}

	return Command{UnexpectedArgsTag: tag}
}

// Encode renders c as its wire-format line, tag first, each field
// preceded by the record separator, terminated by \n. It returns a
// protocol-domain error if any field contains \r or \n, since the codec
// has no escape mechanism to recover that byte on decode.
func Encode(c Command) ([]byte, error) {
	tag, fields := fieldsOf(c)
	for _, f := range fields {
		if strings.IndexByte(f, fieldSep) >= 0 || strings.IndexByte(f, lineEnd) >= 0 {
			return nil, chaterr.New(chaterr.DomainProtocol, chaterr.CodeUnexpectedArgument, "field contains a reserved byte", nil)
		}
	}

	var b strings.Builder
	b.WriteString(string(tag))
	for _, f := range fields {
		b.WriteByte(fieldSep)
		b.WriteString(f)
	}
	b.WriteByte(lineEnd)
	return []byte(b.String()), nil
}

func fieldsOf(c Command) (Tag, []string) {
	switch {
	case c.Say != nil:
		return TagSay, []string{c.Say.RoomID, c.Say.Text}
	case c.Nick != nil:
		return TagNick, []string{c.Nick.Nick}
	case c.Response != nil:
		return TagResponse, []string{c.Response.Text}
	case c.Login != nil:
		return TagLogin, []string{c.Login.ID, c.Login.Password}
	case c.Register != nil:
		return TagRegister, []string{c.Register.ID, c.Register.Password}
	case c.FriendRequest != nil:
		return TagFriendRequest, []string{c.FriendRequest.To}
	case c.FriendAccept != nil:
		return TagFriendAccept, []string{c.FriendAccept.From}
	case c.FriendReject != nil:
		return TagFriendReject, []string{c.FriendReject.From}
	case c.FriendRemove != nil:
		return TagFriendRemove, []string{c.FriendRemove.Friend}
	case c.ListFriend != nil:
		return TagListFriend, nil
	case c.ListFriendRequest != nil:
		return TagListFriendRequest, nil
	case c.CreateRoom != nil:
		return TagCreateRoom, []string{c.CreateRoom.Name}
	case c.DeleteRoom != nil:
		return TagDeleteRoom, []string{c.DeleteRoom.RoomID}
	case c.InviteRoom != nil:
		return TagInviteRoom, []string{c.InviteRoom.RoomID, c.InviteRoom.Friend}
	case c.LeaveRoom != nil:
		return TagLeaveRoom, []string{c.LeaveRoom.RoomID}
	case c.ListRoom != nil:
		return TagListRoom, nil
	case c.History != nil:
		return TagHistory, []string{c.History.RoomID, c.History.Limit}
	default:
		return "", nil
	}
}
