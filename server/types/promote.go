package types

// CanPromote reports whether a column of type from may be widened to to
// without rewriting data: int to long, float to double, and decimal
// precision increases at a fixed scale.
func CanPromote(from, to PrimitiveType) bool {
	if from == to {
		return true
	}
	switch from.ID {
	case IntID:
		return to.ID == LongID
	case FloatID:
		return to.ID == DoubleID
	case DecimalID:
		return to.ID == DecimalID && to.Scale == from.Scale && to.Precision >= from.Precision
	}
	return false
}
