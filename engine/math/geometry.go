package math

// GeometryGenerateNormals writes a face normal into every vertex of every
// triangle. Vertices shared by several triangles keep the last face's normal.
func GeometryGenerateNormals(vertices []VertexPositionNormalUV, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]

		p0 := vertices[i0].PositionU.ToVec3()
		edge1 := vertices[i1].PositionU.ToVec3().Sub(p0)
		edge2 := vertices[i2].PositionU.ToVec3().Sub(p0)

		normal := edge1.Cross(edge2).Normalized()

		for _, idx := range [3]uint32{i0, i1, i2} {
			v := &vertices[idx]
			v.NormalV = Vec4{normal.X, normal.Y, normal.Z, v.NormalV.W}
		}
	}
}

// GeometryExtents returns the axis aligned bounds of the vertex positions.
func GeometryExtents(vertices []VertexPositionNormalUV) Extents3D {
	if len(vertices) == 0 {
		return Extents3D{}
	}
	first := vertices[0].PositionU.ToVec3()
	ext := Extents3D{Min: first, Max: first}
	for _, v := range vertices[1:] {
		p := v.PositionU.ToVec3()
		ext.Min = Vec3{min(ext.Min.X, p.X), min(ext.Min.Y, p.Y), min(ext.Min.Z, p.Z)}
		ext.Max = Vec3{max(ext.Max.X, p.X), max(ext.Max.Y, p.Y), max(ext.Max.Z, p.Z)}
	}
	return ext
}
