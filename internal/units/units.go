// Package units содержит пересчёт веса лома в тройские унции.
package units

import "github.com/kmorozov/buyback-system/internal/model"

// Коэффициенты пересчёта к тройской унции.
const (
	gramsPerTroyOunce = 31.1035
	pennyweightPerOz  = 20.0
	gramsPerPound     = 453.592
)

// TroyOunces переводит вес из указанной единицы в тройские унции.
// Неизвестная единица даёт 0 — исторически совместимое поведение,
// вызывающая сторона при необходимости логирует такой случай.
func TroyOunces(amount float64, unit model.WeightUnit) float64 {
	switch unit {
	case model.UnitTroyOunce:
		return amount
	case model.UnitGram:
		return amount / gramsPerTroyOunce
	case model.UnitPennyweight:
		return amount / pennyweightPerOz
	case model.UnitPound:
		return amount * gramsPerPound / gramsPerTroyOunce
	}
	return 0
}

// ScrapContent вычисляет содержание металла в тройских унциях для лома:
// берётся вес после плавки, если он известен, иначе вес до плавки, и
// умножается на пробу.
func ScrapContent(preMelt float64, postMelt *float64, unit model.WeightUnit, purity float64) float64 {
	weight := preMelt
	if postMelt != nil {
		weight = *postMelt
	}
	return TroyOunces(weight, unit) * purity
}
