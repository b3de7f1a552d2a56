package catalog

// SampleProducts returns the demo catalog. Image refs are relative to
// imageDir.
func SampleProducts(imageDir string) []Product {
	ref := func(name string) string {
		if imageDir == "" {
			return name
		}
		return imageDir + "/" + name
	}
	return []Product{
		{
			ID:       "curtain-1",
			Name:     "Classic Linen Curtain",
			Category: CategoryCurtains,
			WidthCm:  140,
			HeightCm: 250,
			ImageRef: ref("curtain-1.png"),
			Price:    89.99,
			Colors:   []string{"White", "Beige", "Navy"},
		},
		{
			ID:       "curtain-2",
			Name:     "Blackout Panel",
			Category: CategoryCurtains,
			WidthCm:  120,
			HeightCm: 220,
			ImageRef: ref("curtain-2.png"),
			Price:    119.99,
			Colors:   []string{"Charcoal", "Cream", "Forest Green"},
		},
		{
			ID:       "sofa-1",
			Name:     "Stretch Sofa Cover",
			Category: CategorySofaCovers,
			WidthCm:  200,
			HeightCm: 90,
			ImageRef: ref("sofa-1.png"),
			Price:    149.99,
			Colors:   []string{"Gray", "Brown", "Blue"},
		},
		{
			ID:       "cushion-1",
			Name:     "Square Cushion",
			Category: CategoryCushions,
			WidthCm:  45,
			HeightCm: 45,
			ImageRef: ref("cushion-1.png"),
			Price:    24.99,
			Colors:   []string{"Mustard", "Sage", "Terracotta", "Ivory"},
		},
	}
}

// Sample returns the demo catalog.
func Sample(imageDir string) *Catalog {
	c, err := New(SampleProducts(imageDir))
	if err != nil {
		panic("catalog: invalid sample catalog: " + err.Error())
	}
	return c
}
