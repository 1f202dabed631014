package powerup

// Visible reports whether viewer may see owner's board at instant t. It is a
// pure projection recomputed on every query, never cached, because either
// ability may expire mid-overlap.
//
// A player always sees their own board. Otherwise the viewer needs an active
// board-revealing ability whose window covers t. Even then, an active
// board-obscuring ability on the owner whose window also covers t wins
// whenever it was activated at or before the viewer's reveal. An obscure
// activated strictly after the reveal does not displace it.
func Visible(cat *Catalog, viewerID, ownerID string, viewer, owner *Active, t, instantTimeoutMs int64) bool {
	if viewerID == ownerID {
		return true
	}
	if !hasEffect(cat, viewer, EffectRevealBoards) || !viewer.Covers(t, instantTimeoutMs) {
		return false
	}
	if hasEffect(cat, owner, EffectObscureBoards) && owner.Covers(t, instantTimeoutMs) &&
		owner.ActivatedAt <= viewer.ActivatedAt {
		return false
	}
	return true
}

func hasEffect(cat *Catalog, a *Active, effect Effect) bool {
	if a == nil {
		return false
	}
	def, ok := cat.Get(a.AbilityID)
	return ok && def.Effect == effect
}
