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

package store

import "context"

// InviteResult enumerates invite_room's four outcomes.
type InviteResult int

const (
	InviteOK InviteResult = iota
	InviteRoomNotFound
	InviteNotOwner
	InviteFriendNotFound
)

// LeaveResult enumerates leave_room's three outcomes.
type LeaveResult int

const (
	LeaveOK LeaveResult = iota
	LeaveRoomNotFound
	LeaveNotMember
)

// RoomInfo is one row of a list_room response.
type RoomInfo struct {
	ID      string
	Name    string
	Owner   string
	Members int
}

// HistoryEntry is one row of a history response.
type HistoryEntry struct {
	Sender string
	Body   string
}

// Store is the database contract the db worker pool calls. Every
// operation is atomic from the caller's point of view; the concrete
// implementation is free to use transactions internally.
type Store interface {
	Ping(ctx context.Context) error

	// Login returns the stored nickname and true on a matching
	// (id, password); ("", false, nil) on no match.
	Login(ctx context.Context, id, password string) (nickname string, ok bool, err error)
	Signup(ctx context.Context, id, password string) error
	ChangeNickname(ctx context.Context, id, nickname string) error

	RequestFriend(ctx context.Context, from, to string) error
	AcceptFriendRequest(ctx context.Context, id, from string) error
	RejectFriendRequest(ctx context.Context, id, from string) error
	RemoveFriend(ctx context.Context, id, friend string) error
	ListFriends(ctx context.Context, id string) ([]string, error)
	ListFriendRequests(ctx context.Context, id string) ([]string, error)

	CreateRoom(ctx context.Context, ownerID, name string) (roomID string, err error)
	DeleteRoom(ctx context.Context, ownerID, roomID string) error
	InviteRoom(ctx context.Context, inviterID, roomID, friendID string) (InviteResult, error)
	LeaveRoom(ctx context.Context, userID, roomID string) (LeaveResult, error)
	ListRooms(ctx context.Context, userID string) ([]RoomInfo, error)
	JoinedRooms(ctx context.Context, userID string) ([]string, error)

	// CreateRoomMessage persists one chat line and returns its id, only
	// when senderID is a member of roomID.
	CreateRoomMessage(ctx context.Context, senderID, roomID, body string) (msgID string, member bool, err error)
	// ListRoomMessages returns member=false when callerID is not a
	// member of roomID, without an error.
	ListRoomMessages(ctx context.Context, callerID, roomID string, limit int) (entries []HistoryEntry, member bool, err error)
}
