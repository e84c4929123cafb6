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

// Package worker runs the two command-processing pools off the reactor
// thread: a fixed-size general pool (reserved for non-database work) and
// a database pool that serializes every query against a store.Store.
package worker

import (
	"github.com/nabbar/chatd/protocol"
	"github.com/nabbar/chatd/registry"
)

// Task is one unit of work handed from the reactor thread to a pool. FD
// and UserID are owned snapshots taken under the registry's serialization
// domain at enqueue time; the reactor never hands a worker a Connection
// pointer.
type Task struct {
	Command protocol.Command
	FD      int
	UserID  string
	Reg     *registry.Registry
}

// IsPoolCommand classifies commands the general pool should handle. It
// returns false for every current variant: nothing in this command set
// needs a non-database worker yet.
func IsPoolCommand(cmd protocol.Command) bool {
	return false
}

// IsDBCommand classifies commands that require a database query: login,
// register, nick, every friend_* variant, every room_* variant, say and
// history.
func IsDBCommand(cmd protocol.Command) bool {
	switch {
	case cmd.Login != nil, cmd.Register != nil, cmd.Nick != nil:
		return true
	case cmd.FriendRequest != nil, cmd.FriendAccept != nil, cmd.FriendReject != nil, cmd.FriendRemove != nil:
		return true
	case cmd.ListFriend != nil, cmd.ListFriendRequest != nil:
		return true
	case cmd.CreateRoom != nil, cmd.DeleteRoom != nil, cmd.InviteRoom != nil, cmd.LeaveRoom != nil, cmd.ListRoom != nil:
		return true
	case cmd.Say != nil, cmd.History != nil:
		return true
	default:
		return false
	}
}
