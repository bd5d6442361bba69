package block

// DefaultBlocks возвращает билдер с базовым набором блоков движка.
// Порядок регистрации фиксирован: сохранённые миры хранят BlockID напрямую,
// поэтому менять его нельзя — новые блоки добавляются только в конец.
func DefaultBlocks() *RegistryBuilder {
	rb := NewRegistryBuilder()

	rb.MustRegister(BlockDescriptor{Name: "voxel:stone", Solid: true, LightAbsorption: MaxLightLevel})
	rb.MustRegister(BlockDescriptor{Name: "voxel:dirt", Solid: true, LightAbsorption: MaxLightLevel})
	rb.MustRegister(BlockDescriptor{Name: "voxel:grass", Solid: true, LightAbsorption: MaxLightLevel})
	rb.MustRegister(BlockDescriptor{Name: "voxel:sand", Solid: true, LightAbsorption: MaxLightLevel})
	rb.MustRegister(BlockDescriptor{Name: "voxel:water", Solid: false, LightAbsorption: 2})
	rb.MustRegister(BlockDescriptor{Name: "voxel:glowstone", Solid: true, LightEmission: MaxLightLevel, LightAbsorption: MaxLightLevel})
	rb.MustRegister(BlockDescriptor{Name: "voxel:torch", Solid: false, LightEmission: 14})
	rb.MustRegister(BlockDescriptor{Name: "voxel:chest", Solid: true, LightAbsorption: MaxLightLevel, CustomDataSize: 256})

	return rb
}
