package service

// resolveField settles one field of a three-way merge. The mirror value is
// nil when the record was never synced. The second return is false when both
// sides changed the field to different values, which forces a record fork.
func resolveField[F comparable](mirror *F, local, incoming F) (F, bool) {
	if local == incoming {
		return local, true
	}
	if mirror != nil {
		if local == *mirror {
			return incoming, true
		}
		if incoming == *mirror {
			return local, true
		}
	}
	return local, false
}
