package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief A quaternion, used to represent rotational orientation. */
type Quaternion Vec4

/**
 * @brief a 4x4 matrix, stored row-major and applied to row vectors
 * (p' = p * M). Translation lives in elements 12, 13 and 14.
 */
type Mat4 struct {
	/** @brief The matrix elements */
	Data [16]float32
}

/**
 * @brief Represents the extents of a 3d object.
 */
type Extents3D struct {
	/** @brief The minimum extents of the object. */
	Min Vec3
	/** @brief The maximum extents of the object. */
	Max Vec3
}

/**
 * @brief The vertex layout consumed by the hit shaders. The texture
 * coordinate is packed into the w components, giving a 32 byte stride.
 */
type VertexPositionNormalUV struct {
	/** @brief Position in xyz, texture u in w. */
	PositionU Vec4
	/** @brief Normal in xyz, texture v in w. */
	NormalV Vec4
}

/** @brief Size in bytes of a VertexPositionNormalUV. */
const VertexPositionNormalUVSize uint32 = 32

/**
 * @brief Position, rotation and scale of a node relative to its parent.
 * The matrices derived from it are always recomputed on demand.
 */
type Transform struct {
	/** @brief The position relative to the parent. */
	Position Vec3
	/** @brief The rotation relative to the parent. */
	Rotation Quaternion
	/** @brief The scale relative to the parent. */
	Scale Vec3
}
