package resources

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	/** @brief Not a resource the engine knows how to load. */
	ResourceTypeNone ResourceType = iota
	/** @brief Text resource type. */
	ResourceTypeText
	/** @brief Binary resource type. */
	ResourceTypeBinary
	/** @brief Shader library config, pointing at a compiled DXIL library. */
	ResourceTypeShader
	/** @brief Scene description. */
	ResourceTypeScene
	/** @brief Application config. */
	ResourceTypeConfig
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeText:
		return "text"
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeScene:
		return "scene"
	case ResourceTypeConfig:
		return "config"
	default:
		return "none"
	}
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	Type     ResourceType
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}

/**
 * @brief A shader library config, typically read from a .shadercfg file
 * next to the compiled library.
 */
type ShaderConfig struct {
	/** @brief Logical name the pipeline refers to. */
	Name string `toml:"name"`
	/** @brief Compiled library, relative to the config file. */
	File string `toml:"file"`
	/** @brief The entry points the library exports. */
	Exports []string `toml:"exports"`
}

/** @brief A loaded shader library: its config plus the bytecode. */
type ShaderResourceData struct {
	Config ShaderConfig
	Blob   []byte
}

/** @brief A mesh generated by the geometry system. */
type MeshDescription struct {
	Name   string  `toml:"name"`
	Kind   string  `toml:"kind"`
	Width  float32 `toml:"width"`
	Height float32 `toml:"height"`
	Depth  float32 `toml:"depth"`
}

/**
 * @brief One scene object. Kind is reflector, source or receiver; the
 * remaining fields apply depending on the kind.
 */
type ObjectDescription struct {
	Name   string `toml:"name"`
	Kind   string `toml:"kind"`
	Parent string `toml:"parent"`

	Position [3]float32 `toml:"position"`
	/** @brief Euler angles in degrees. */
	Rotation [3]float32  `toml:"rotation"`
	Scale    *[3]float32 `toml:"scale"`

	/** @brief Reflectors only. */
	Surface      string     `toml:"surface"`
	Mesh         string     `toml:"mesh"`
	Albedo       [4]float32 `toml:"albedo"`
	Reflectivity float32    `toml:"reflectivity"`
	Texture      string     `toml:"texture"`

	/** @brief Sound sources only: field of view of the ray projection in degrees. */
	FOV float32 `toml:"fov"`
}

/** @brief A procedural texture of a single colour. */
type TextureDescription struct {
	Name   string     `toml:"name"`
	Width  uint32     `toml:"width"`
	Height uint32     `toml:"height"`
	Color  [4]float32 `toml:"color"`
}

/** @brief The contents of a scene description file. */
type SceneDescription struct {
	Name     string               `toml:"name"`
	Meshes   []MeshDescription    `toml:"mesh"`
	Textures []TextureDescription `toml:"texture"`
	Objects  []ObjectDescription  `toml:"object"`
}
