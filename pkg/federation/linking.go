// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"

	"sampledb.io/sampledb/pkg/component"
)

// HashEmail computes the identity-linking hash of an email address. Hashes
// are compared case insensitively by lowercasing before hashing.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// LinkUsers matches the peer's linking candidates against local users by
// hashed confirmed email and persists a link for each first match. Users
// already linked toward the peer are left alone; a candidate matching
// several local users links only the first. Linking never fails a sync
// pass: per-candidate errors are logged and skipped.
func (service *Service) LinkUsers(ctx context.Context, comp *component.Component, candidates []CandidatePayload) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !service.config.EnableAutomaticUserLinking || len(candidates) == 0 {
		return nil
	}

	users, err := service.users.All(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	byHash := map[string]*User{}
	for i := range users {
		user := &users[i]
		if user.ComponentID != LocalComponentID || !user.EmailConfirmed || user.Email == "" {
			continue
		}
		hash := HashEmail(user.Email)
		if _, taken := byHash[hash]; !taken {
			byHash[hash] = user
		}
	}

	for _, candidate := range candidates {
		if _, err := service.users.GetLink(ctx, comp.ID, candidate.UserID); err == nil {
			continue
		} else if !ErrLinkNotFound.Has(err) {
			return Error.Wrap(err)
		}

		for _, hash := range candidate.EmailHashes {
			user, ok := byHash[strings.ToLower(hash)]
			if !ok {
				continue
			}
			if err := service.users.CreateLink(ctx, user.ID, comp.ID, candidate.UserID); err != nil {
				service.log.Warn("linking user failed",
					zap.Int64("user_id", user.ID),
					zap.Int64("fed_user_id", candidate.UserID),
					zap.Stringer("component", comp.UUID),
					zap.Error(err))
				break
			}
			service.log.Info("linked user by email hash",
				zap.Int64("user_id", user.ID),
				zap.Int64("fed_user_id", candidate.UserID),
				zap.Stringer("component", comp.UUID))
			if service.notifier != nil {
				service.notifier.UserLinked(ctx, user.ID, comp.ID, candidate.UserID)
			}
			break
		}
	}
	return nil
}
