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

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/nabbar/chatd/chaterr"
)

// GormStore implements Store against a SQL database via GORM. It treats
// the database as a single logical connection: the db worker pool
// serializes all calls into it with its own mutex, matching the
// source's constraint on the underlying database library.
type GormStore struct {
	db *gorm.DB
}

// Open connects to dsn (a MySQL data source name) and migrates the
// schema.
func Open(dsn string) (*GormStore, error) {
	return OpenDialector(gormmysql.Open(dsn))
}

// OpenDialector builds a GormStore over an arbitrary GORM dialector and
// migrates the schema. Exported so tests can substitute an in-memory
// SQLite dialector without a live MySQL server.
func OpenDialector(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBConnection, "open database", err)
	}
	if err := db.AutoMigrate(&User{}, &Friendship{}, &Room{}, &RoomMember{}, &Message{}); err != nil {
		return nil, chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBConnection, "migrate schema", err)
	}
	return &GormStore{db: db}, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1062:
			return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBUniqueViolation, "unique constraint", err)
		case 1452:
			return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBForeignKeyViolation, "foreign key constraint", err)
		case 1048:
			return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBNotNullViolation, "not null constraint", err)
		case 1213:
			return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBDeadlock, "deadlock", err)
		case 1205:
			return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBInDoubt, "lock wait timeout", err)
		default:
			return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBSQL, "sql error", err)
		}
	}
	return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBUnknown, "database error", err)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return mapErr(err)
	}
	return mapErr(sqlDB.PingContext(ctx))
}

func (s *GormStore) Login(ctx context.Context, id, password string) (string, bool, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapErr(err)
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return "", false, nil
	}
	return u.Nickname, true, nil
}

func (s *GormStore) Signup(ctx context.Context, id, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBSQL, "hash password", err)
	}
	u := User{ID: id, Nickname: "guest", PasswordHash: hash}
	return mapErr(s.db.WithContext(ctx).Create(&u).Error)
}

func (s *GormStore) ChangeNickname(ctx context.Context, id, nickname string) error {
	return mapErr(s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("nickname", nickname).Error)
}

func (s *GormStore) RequestFriend(ctx context.Context, from, to string) error {
	f := Friendship{RequesterID: from, AddresseeID: to, Status: FriendStatusPending}
	return mapErr(s.db.WithContext(ctx).Create(&f).Error)
}

func (s *GormStore) AcceptFriendRequest(ctx context.Context, id, from string) error {
	return mapErr(s.db.WithContext(ctx).Model(&Friendship{}).
		Where("requester_id = ? AND addressee_id = ?", from, id).
		Update("status", FriendStatusAccepted).Error)
}

func (s *GormStore) RejectFriendRequest(ctx context.Context, id, from string) error {
	return mapErr(s.db.WithContext(ctx).
		Where("requester_id = ? AND addressee_id = ?", from, id).
		Delete(&Friendship{}).Error)
}

func (s *GormStore) RemoveFriend(ctx context.Context, id, friend string) error {
	return mapErr(s.db.WithContext(ctx).
		Where("status = ? AND ((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?))",
			FriendStatusAccepted, id, friend, friend, id).
		Delete(&Friendship{}).Error)
}

func (s *GormStore) ListFriends(ctx context.Context, id string) ([]string, error) {
	var rows []Friendship
	err := s.db.WithContext(ctx).
		Where("status = ? AND (requester_id = ? OR addressee_id = ?)", FriendStatusAccepted, id, id).
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.RequesterID == id {
			out = append(out, r.AddresseeID)
		} else {
			out = append(out, r.RequesterID)
		}
	}
	return out, nil
}

func (s *GormStore) ListFriendRequests(ctx context.Context, id string) ([]string, error) {
	var rows []Friendship
	err := s.db.WithContext(ctx).
		Where("status = ? AND addressee_id = ?", FriendStatusPending, id).
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.RequesterID)
	}
	return out, nil
}

func (s *GormStore) CreateRoom(ctx context.Context, ownerID, name string) (string, error) {
	room := Room{ID: uuid.NewString(), Name: name, OwnerID: ownerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&RoomMember{RoomID: room.ID, UserID: ownerID}).Error
	})
	if err != nil {
		return "", mapErr(err)
	}
	return room.ID, nil
}

func (s *GormStore) DeleteRoom(ctx context.Context, ownerID, roomID string) error {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", roomID, ownerID).Delete(&Room{})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		deleted = true
		return tx.Where("room_id = ?", roomID).Delete(&RoomMember{}).Error
	})
	if err != nil {
		return mapErr(err)
	}
	if !deleted {
		return chaterr.New(chaterr.DomainDatabase, chaterr.CodeDBPermission, "not owner or room not found", nil)
	}
	return nil
}

func (s *GormStore) InviteRoom(ctx context.Context, inviterID, roomID, friendID string) (InviteResult, error) {
	var room Room
	err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return InviteRoomNotFound, nil
	}
	if err != nil {
		return InviteRoomNotFound, mapErr(err)
	}
	if room.OwnerID != inviterID {
		return InviteNotOwner, nil
	}

	var friend User
	if err := s.db.WithContext(ctx).First(&friend, "id = ?", friendID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return InviteFriendNotFound, nil
		}
		return InviteFriendNotFound, mapErr(err)
	}

	if err := s.db.WithContext(ctx).Create(&RoomMember{RoomID: roomID, UserID: friendID}).Error; err != nil {
		return InviteFriendNotFound, mapErr(err)
	}
	return InviteOK, nil
}

func (s *GormStore) LeaveRoom(ctx context.Context, userID, roomID string) (LeaveResult, error) {
	var room Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LeaveRoomNotFound, nil
		}
		return LeaveRoomNotFound, mapErr(err)
	}
	res := s.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&RoomMember{})
	if res.Error != nil {
		return LeaveNotMember, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return LeaveNotMember, nil
	}
	return LeaveOK, nil
}

func (s *GormStore) ListRooms(ctx context.Context, userID string) ([]RoomInfo, error) {
	var memberRoomIDs []string
	if err := s.db.WithContext(ctx).Model(&RoomMember{}).Where("user_id = ?", userID).
		Pluck("room_id", &memberRoomIDs).Error; err != nil {
		return nil, mapErr(err)
	}
	if len(memberRoomIDs) == 0 {
		return nil, nil
	}

	var rooms []Room
	if err := s.db.WithContext(ctx).Where("id IN ?", memberRoomIDs).Find(&rooms).Error; err != nil {
		return nil, mapErr(err)
	}

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		var count int64
		s.db.WithContext(ctx).Model(&RoomMember{}).Where("room_id = ?", r.ID).Count(&count)
		out = append(out, RoomInfo{ID: r.ID, Name: r.Name, Owner: r.OwnerID, Members: int(count)})
	}
	return out, nil
}

func (s *GormStore) JoinedRooms(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&RoomMember{}).Where("user_id = ?", userID).Pluck("room_id", &ids).Error
	return ids, mapErr(err)
}

func (s *GormStore) CreateRoomMessage(ctx context.Context, senderID, roomID, body string) (string, bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, senderID).Count(&count).Error; err != nil {
		return "", false, mapErr(err)
	}
	if count == 0 {
		return "", false, nil
	}

	msg := Message{ID: uuid.NewString(), RoomID: roomID, SenderID: senderID, Body: body}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return "", true, mapErr(err)
	}
	return msg.ID, true, nil
}

func (s *GormStore) ListRoomMessages(ctx context.Context, callerID, roomID string, limit int) ([]HistoryEntry, bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, callerID).Count(&count).Error; err != nil {
		return nil, false, mapErr(err)
	}
	if count == 0 {
		return nil, false, nil
	}

	var rows []Message
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, true, mapErr(err)
	}

	out := make([]HistoryEntry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, HistoryEntry{Sender: rows[i].SenderID, Body: rows[i].Body})
	}
	return out, true, nil
}
