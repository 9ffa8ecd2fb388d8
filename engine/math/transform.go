package math

func TransformCreate() Transform {
	return Transform{
		Position: NewVec3Zero(),
		Rotation: NewQuatIdentity(),
		Scale:    NewVec3One(),
	}
}

func TransformFromPosition(position Vec3) Transform {
	t := TransformCreate()
	t.Position = position
	return t
}

func TransformFromPositionRotation(position Vec3, rotation Quaternion) Transform {
	t := TransformCreate()
	t.Position = position
	t.Rotation = rotation
	return t
}

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) Transform {
	return Transform{
		Position: position,
		Rotation: rotation,
		Scale:    scale,
	}
}

/**
 * @brief Local to parent matrix: scale, then rotate, then translate.
 */
func (t Transform) LocalToParent() Mat4 {
	s := NewMat4Scale(t.Scale)
	r := t.Rotation.ToMat4()
	return s.Mul(r).Mul(NewMat4Translation(t.Position))
}

/**
 * @brief Exact inverse of LocalToParent. A zero scale component maps to a
 * zero inverse scale instead of infinity.
 */
func (t Transform) ParentToLocal() Mat4 {
	inv := NewMat4Translation(t.Position.MulScalar(-1))
	r := t.Rotation.Inverse().ToMat4()
	return inv.Mul(r).Mul(NewMat4Scale(Vec3{
		X: safeReciprocal(t.Scale.X),
		Y: safeReciprocal(t.Scale.Y),
		Z: safeReciprocal(t.Scale.Z),
	}))
}

func safeReciprocal(v float32) float32 {
	if v == 0 {
		return 0
	}
	return 1 / v
}
