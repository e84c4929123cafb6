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

// Package store defines the database contract the db worker pool calls
// (Store) and a GORM-backed implementation of it (GormStore).
package store

import "time"

// User is one registered account. ID is the login identifier the client
// supplies; Nickname defaults to "guest" until changed.
type User struct {
	ID           string `gorm:"primaryKey;size:64"`
	Nickname     string `gorm:"size:64;not null;default:guest"`
	PasswordHash []byte `gorm:"not null"`
	CreatedAt    time.Time
}

// FriendStatus enumerates a friendship row's lifecycle.
type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
)

// Friendship is a directed request from Requester to Addressee; once
// accepted it represents a symmetric friendship.
type Friendship struct {
	RequesterID string `gorm:"primaryKey;size:64"`
	AddresseeID string `gorm:"primaryKey;size:64"`
	Status      FriendStatus
	CreatedAt   time.Time
}

// Room is a named chat room owned by its creator.
type Room struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128;not null"`
	OwnerID   string `gorm:"size:64;not null"`
	CreatedAt time.Time
}

// RoomMember links a User to a Room they have joined.
type RoomMember struct {
	RoomID   string `gorm:"primaryKey;size:36"`
	UserID   string `gorm:"primaryKey;size:64"`
	JoinedAt time.Time
}

// Message is one persisted chat line.
type Message struct {
	ID        string `gorm:"primaryKey;size:36"`
	RoomID    string `gorm:"size:36;not null;index"`
	SenderID  string `gorm:"size:64;not null"`
	Body      string `gorm:"type:text;not null"`
	CreatedAt time.Time
}
